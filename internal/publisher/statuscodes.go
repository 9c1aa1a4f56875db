package publisher

import (
	"fmt"
	"strings"
)

// Well-known OPC UA status codes the bridge cares about. Values are the
// 32-bit code with the severity bits in the top nibble.
const (
	StatusGood                     uint32 = 0x00000000
	StatusUncertain                uint32 = 0x40000000
	StatusBad                      uint32 = 0x80000000
	StatusBadTimeout               uint32 = 0x800A0000
	StatusBadNodeIDUnknown         uint32 = 0x80340000
	StatusBadNoCommunication       uint32 = 0x80310000
	StatusBadWaitingForInitialData uint32 = 0x80320000
	StatusBadOutOfService          uint32 = 0x808D0000
)

var statusCodesByName = map[string]uint32{
	"Good":                     StatusGood,
	"Uncertain":                StatusUncertain,
	"Bad":                      StatusBad,
	"BadTimeout":               StatusBadTimeout,
	"BadNodeIdUnknown":         StatusBadNodeIDUnknown,
	"BadNoCommunication":       StatusBadNoCommunication,
	"BadWaitingForInitialData": StatusBadWaitingForInitialData,
	"BadOutOfService":          StatusBadOutOfService,
}

var statusNamesByCode = func() map[uint32]string {
	m := make(map[uint32]string, len(statusCodesByName))
	for name, code := range statusCodesByName {
		m[code] = name
	}
	return m
}()

// StatusText returns the symbolic name for a status code, or its hex form
// when the code is not in the table.
func StatusText(code uint32) string {
	if name, ok := statusNamesByCode[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", code)
}

// ParseSuppressedStatusCodes resolves a configured list of status code names
// into the code set used to filter notifications. Names are matched
// case-insensitively; an unknown name is a configuration error.
func ParseSuppressedStatusCodes(names []string) (map[uint32]struct{}, error) {
	suppressed := make(map[uint32]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		found := false
		for known, code := range statusCodesByName {
			if strings.EqualFold(known, name) {
				suppressed[code] = struct{}{}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown status code name %q", name)
		}
	}
	return suppressed, nil
}
