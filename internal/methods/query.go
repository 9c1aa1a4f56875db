package methods

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/publisher"
)

// GetConfiguredEndpoints lists every configured endpoint.
func (h *Handlers) GetConfiguredEndpoints(ctx context.Context, payload []byte) (int, []byte) {
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	entries, _, err := h.registry.GetPublisherConfigurationFileEntries(h.shutdown, uuid.Nil, false)
	if err != nil {
		return h.fail(http.StatusInternalServerError, err.Error())
	}

	resp := GetConfiguredEndpointsResponse{Endpoints: make([]ConfiguredEndpoint, 0, len(entries))}
	for _, e := range entries {
		ep := ConfiguredEndpoint{
			EndpointName: e.EndpointName,
			EndpointURL:  e.EndpointURL,
		}
		if e.EndpointID != nil {
			ep.EndpointID = e.EndpointID.String()
		}
		resp.Endpoints = append(resp.Endpoints, ep)
	}
	return h.respond(http.StatusOK, resp)
}

// GetConfiguredNodesOnEndpoint returns one page of the endpoint's
// data-change nodes. The continuation token embeds the configuration
// version; a token minted before a structural change is stale and answered
// with Gone.
func (h *Handlers) GetConfiguredNodesOnEndpoint(ctx context.Context, payload []byte) (int, []byte) {
	var req GetConfiguredNodesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return h.fail(http.StatusNotAcceptable, "invalid request: "+err.Error())
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	endpointID := uuid.MustParse(req.EndpointID)
	entries, version, err := h.registry.GetPublisherConfigurationFileEntries(h.shutdown, endpointID, false)
	if err != nil {
		return h.fail(http.StatusInternalServerError, err.Error())
	}
	if len(entries) == 0 {
		return h.fail(http.StatusNotFound, "no session for endpoint "+req.EndpointID)
	}

	var nodes []publisher.OpcNodeOnEndpoint
	for _, e := range entries {
		nodes = append(nodes, e.OpcNodes...)
	}

	offset, status, errBody := h.resolveOffset(req.ContinuationToken, version, len(nodes))
	if status != 0 {
		return status, errBody
	}
	if len(nodes) == 0 {
		return http.StatusNoContent, nil
	}

	page, next := h.pageFits(version, offset, len(nodes), func(offset, size int) any {
		return GetConfiguredNodesResponse{
			EndpointID: req.EndpointID,
			OpcNodes:   nodes[offset : offset+size],
		}
	})
	resp := GetConfiguredNodesResponse{
		EndpointID:        req.EndpointID,
		OpcNodes:          nodes[offset : offset+page],
		ContinuationToken: next,
	}
	return h.respond(http.StatusOK, resp)
}

// GetConfiguredEventsOnEndpoint returns one page of the endpoint's event
// configurations, with the same continuation-token contract as the node
// query.
func (h *Handlers) GetConfiguredEventsOnEndpoint(ctx context.Context, payload []byte) (int, []byte) {
	var req GetConfiguredNodesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return h.fail(http.StatusNotAcceptable, "invalid request: "+err.Error())
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	endpointID := uuid.MustParse(req.EndpointID)
	entries, version, err := h.registry.GetPublisherConfigurationFileEntries(h.shutdown, endpointID, false)
	if err != nil {
		return h.fail(http.StatusInternalServerError, err.Error())
	}
	if len(entries) == 0 {
		return h.fail(http.StatusNotFound, "no session for endpoint "+req.EndpointID)
	}

	var events []publisher.EventConfiguration
	for _, e := range entries {
		events = append(events, e.OpcEvents...)
	}

	offset, status, errBody := h.resolveOffset(req.ContinuationToken, version, len(events))
	if status != 0 {
		return status, errBody
	}
	if len(events) == 0 {
		return http.StatusNoContent, nil
	}

	page, next := h.pageFits(version, offset, len(events), func(offset, size int) any {
		return GetConfiguredEventsResponse{
			EndpointID: req.EndpointID,
			EventNodes: events[offset : offset+size],
		}
	})
	resp := GetConfiguredEventsResponse{
		EndpointID:        req.EndpointID,
		EventNodes:        events[offset : offset+page],
		ContinuationToken: next,
	}
	return h.respond(http.StatusOK, resp)
}

// resolveOffset validates a continuation token against the current
// configuration version. A non-zero status means the caller must return
// that response.
func (h *Handlers) resolveOffset(token *uint64, version uint32, total int) (int, int, []byte) {
	if token == nil {
		return 0, 0, nil
	}
	tokenVersion, offset := publisher.DecodeContinuationToken(*token)
	if tokenVersion != version {
		status, body := h.fail(http.StatusGone, "continuation token is stale, restart pagination")
		return 0, status, body
	}
	if int(offset) >= total {
		return 0, http.StatusNoContent, nil
	}
	return int(offset), 0, nil
}

// tokenReserveBytes is the worst-case serialized size of the continuation
// token field attached to a partial page.
const tokenReserveBytes = len(`,"ContinuationToken":18446744073709551615`)

// pageFits picks the largest page starting at offset whose serialized form
// fits the response payload cap, halving the candidate size until it does.
// A partial page must also leave room for the continuation token it will
// carry. Returns the page size and the token for the remainder, if any.
func (h *Handlers) pageFits(version uint32, offset, total int, build func(offset, size int) any) (int, *uint64) {
	size := total - offset
	for size > 1 {
		raw, err := json.Marshal(build(offset, size))
		if err == nil {
			limit := h.maxResponseBytes
			if offset+size < total {
				limit -= tokenReserveBytes
			}
			if len(raw) <= limit {
				break
			}
		}
		size /= 2
	}
	if offset+size >= total {
		return size, nil
	}
	next := publisher.EncodeContinuationToken(version, uint32(offset+size))
	return size, &next
}

// GetConfigurationJSON returns the current published-nodes document.
func (h *Handlers) GetConfigurationJSON(ctx context.Context, payload []byte) (int, []byte) {
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}
	raw, err := h.registry.ConfigurationJSON(h.shutdown)
	if err != nil {
		return h.fail(http.StatusInternalServerError, err.Error())
	}
	return h.respond(http.StatusOK, ConfigurationJSONResponse{ConfigurationJSONString: string(raw)})
}
