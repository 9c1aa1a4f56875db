package methods

import (
	"encoding/json"
	"net/http"
)

// respond encodes a response body and applies the hard response size cap.
// An oversized body is truncated at the byte level, which may yield invalid
// JSON; callers of the method surface must tolerate that.
func (h *Handlers) respond(status int, body any) (int, []byte) {
	if body == nil {
		return status, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode method response", "error", err)
		return http.StatusInternalServerError, nil
	}
	if len(raw) > h.maxResponseBytes {
		h.logger.Error("method response exceeds payload limit, truncated",
			"response_bytes", len(raw),
			"limit_bytes", h.maxResponseBytes,
		)
		raw = raw[:h.maxResponseBytes]
	}
	return status, raw
}

// fail wraps one or more status strings into the error body.
func (h *Handlers) fail(status int, messages ...string) (int, []byte) {
	return h.respond(status, StatusListResponse{Statuses: messages})
}

// worstStatus keeps the most severe of two HTTP-like statuses.
func worstStatus(current, candidate int) int {
	if candidate > current {
		return candidate
	}
	return current
}
