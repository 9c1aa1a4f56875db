package publisher

import "testing"

func TestParseSuppressedStatusCodes(t *testing.T) {
	codes, err := ParseSuppressedStatusCodes([]string{"badnocommunication", "BadWaitingForInitialData", " "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("got %d codes, want 2", len(codes))
	}
	if _, ok := codes[StatusBadNoCommunication]; !ok {
		t.Error("BadNoCommunication missing from set")
	}
	if _, ok := codes[StatusBadWaitingForInitialData]; !ok {
		t.Error("BadWaitingForInitialData missing from set")
	}
}

func TestParseSuppressedStatusCodesRejectsUnknown(t *testing.T) {
	if _, err := ParseSuppressedStatusCodes([]string{"BadMadeUpName"}); err == nil {
		t.Error("unknown status code name accepted")
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(StatusGood); got != "Good" {
		t.Errorf("StatusText(Good) = %q", got)
	}
	if got := StatusText(0x80990000); got != "0x80990000" {
		t.Errorf("StatusText(unknown) = %q, want hex form", got)
	}
}
