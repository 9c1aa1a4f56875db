package hub

import "testing"

func TestParseMethodTopic(t *testing.T) {
	cases := []struct {
		topic   string
		name    string
		rid     string
		wantErr bool
	}{
		{topic: "$iothub/methods/POST/PublishNodes/?$rid=42", name: "PublishNodes", rid: "42"},
		{topic: "$iothub/methods/POST/GetDiagnosticInfo/?$rid=abc-123", name: "GetDiagnosticInfo", rid: "abc-123"},
		{topic: "$iothub/methods/POST/UnpublishNodes/?extra=1&$rid=7", name: "UnpublishNodes", rid: "7"},
		{topic: "$iothub/methods/POST/PublishNodes/", name: "PublishNodes", rid: ""},
		{topic: "$iothub/methods/POST//?$rid=1", wantErr: true},
		{topic: "$iothub/twin/PATCH/properties/reported/?$rid=1", wantErr: true},
		{topic: "devices/dev1/messages/events/", wantErr: true},
	}

	for _, tc := range cases {
		name, rid, err := parseMethodTopic(tc.topic)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMethodTopic(%q) accepted", tc.topic)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMethodTopic(%q): %v", tc.topic, err)
			continue
		}
		if name != tc.name || rid != tc.rid {
			t.Errorf("parseMethodTopic(%q) = %q, %q, want %q, %q", tc.topic, name, rid, tc.name, tc.rid)
		}
	}
}
