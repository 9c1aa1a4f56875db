package publisher

import "testing"

func TestContinuationTokenRoundTrip(t *testing.T) {
	cases := []struct {
		version uint32
		offset  uint32
	}{
		{0, 0},
		{1, 0},
		{0, 1},
		{42, 1000},
		{^uint32(0), ^uint32(0)},
	}
	for _, tc := range cases {
		token := EncodeContinuationToken(tc.version, tc.offset)
		version, offset := DecodeContinuationToken(token)
		if version != tc.version || offset != tc.offset {
			t.Errorf("round trip (%d,%d) -> %d -> (%d,%d)", tc.version, tc.offset, token, version, offset)
		}
	}
}

func TestContinuationTokenLayout(t *testing.T) {
	token := EncodeContinuationToken(2, 3)
	if token != (uint64(2)<<32 | 3) {
		t.Errorf("token = %d, want version in high word and offset in low word", token)
	}
}
