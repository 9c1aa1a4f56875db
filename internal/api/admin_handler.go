package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/opcbridge/opcbridge/internal/methods"
)

// AdminHandler exposes the hub method surface over the local admin API so the
// bridge can be driven without hub connectivity. Each route delegates to the
// same method handler the hub invokes, keeping semantics and status codes
// identical on both surfaces.
type AdminHandler struct {
	methods *methods.Handlers
}

// NewAdminHandler creates the admin handler around the method surface.
func NewAdminHandler(m *methods.Handlers) *AdminHandler {
	return &AdminHandler{methods: m}
}

// relay invokes one method handler with the request body as payload and
// writes its status and body back unchanged.
func (h *AdminHandler) relay(w http.ResponseWriter, r *http.Request, call func(payload []byte) (int, []byte)) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body", err)
		return
	}
	status, body := call(payload)
	writeMethodResult(w, status, body)
}

func writeMethodResult(w http.ResponseWriter, status int, body []byte) {
	if len(body) == 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// PublishNodes handles POST /api/v1/publish
func (h *AdminHandler) PublishNodes(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(payload []byte) (int, []byte) {
		return h.methods.PublishNodes(r.Context(), payload)
	})
}

// PublishEvents handles POST /api/v1/publish-events
func (h *AdminHandler) PublishEvents(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(payload []byte) (int, []byte) {
		return h.methods.PublishEvents(r.Context(), payload)
	})
}

// UnpublishNodes handles POST /api/v1/unpublish
func (h *AdminHandler) UnpublishNodes(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(payload []byte) (int, []byte) {
		return h.methods.UnpublishNodes(r.Context(), payload)
	})
}

// UnpublishAllNodes handles POST /api/v1/unpublish-all
func (h *AdminHandler) UnpublishAllNodes(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(payload []byte) (int, []byte) {
		return h.methods.UnpublishAllNodes(r.Context(), payload)
	})
}

// ListEndpoints handles GET /api/v1/endpoints
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	status, body := h.methods.GetConfiguredEndpoints(r.Context(), nil)
	writeMethodResult(w, status, body)
}

// ListNodes handles GET /api/v1/endpoints/{id}/nodes
func (h *AdminHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.pageRequest(w, r)
	if !ok {
		return
	}
	status, body := h.methods.GetConfiguredNodesOnEndpoint(r.Context(), payload)
	writeMethodResult(w, status, body)
}

// ListEvents handles GET /api/v1/endpoints/{id}/events
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.pageRequest(w, r)
	if !ok {
		return
	}
	status, body := h.methods.GetConfiguredEventsOnEndpoint(r.Context(), payload)
	writeMethodResult(w, status, body)
}

// DeleteEndpoint handles DELETE /api/v1/endpoints/{id}
func (h *AdminHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	payload, _ := json.Marshal(methods.DeleteEndpointRequest{EndpointID: id.String()})
	status, body := h.methods.DeleteConfiguredEndpoint(r.Context(), payload)
	writeMethodResult(w, status, body)
}

// GetConfiguration handles GET /api/v1/configuration
func (h *AdminHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	status, body := h.methods.GetConfigurationJSON(r.Context(), nil)
	writeMethodResult(w, status, body)
}

// SaveConfiguration handles PUT /api/v1/configuration
func (h *AdminHandler) SaveConfiguration(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, func(payload []byte) (int, []byte) {
		return h.methods.SaveConfigurationJSON(r.Context(), payload)
	})
}

// Diagnostics handles GET /api/v1/diagnostics
func (h *AdminHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	status, body := h.methods.GetDiagnosticInfo(r.Context(), nil)
	writeMethodResult(w, status, body)
}

// pageRequest builds the paged-query payload from the endpoint id URL param
// and the optional continuationToken query parameter.
func (h *AdminHandler) pageRequest(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return nil, false
	}
	req := methods.GetConfiguredNodesRequest{EndpointID: id.String()}
	if raw := r.URL.Query().Get("continuationToken"); raw != "" {
		token, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			sendError(w, r, http.StatusBadRequest, "INVALID_TOKEN", "Invalid continuation token", err)
			return nil, false
		}
		req.ContinuationToken = &token
	}
	payload, _ := json.Marshal(req)
	return payload, true
}
