package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/hub"
	"github.com/opcbridge/opcbridge/internal/publisher"
)

// Handlers is the hub direct-method surface. Every handler follows one
// template: parse, validate, short-circuit on shutdown, mutate or query the
// registry under its semaphores, respond with a capped payload.
type Handlers struct {
	registry *publisher.NodeConfiguration
	cipher   *auth.Cipher
	validate *validator.Validate

	// shutdown is the process-lifetime context; handlers observe its
	// cancellation instead of blocking on locks during teardown.
	shutdown context.Context

	maxResponseBytes int
	logger           *slog.Logger
}

// NewHandlers builds the method surface around the registry.
func NewHandlers(shutdown context.Context, registry *publisher.NodeConfiguration, cipher *auth.Cipher, maxResponseBytes int, logger *slog.Logger) *Handlers {
	return &Handlers{
		registry:         registry,
		cipher:           cipher,
		validate:         validator.New(),
		shutdown:         shutdown,
		maxResponseBytes: maxResponseBytes,
		logger:           logger.With("component", "methods"),
	}
}

// Register wires every method handler into the hub client.
func (h *Handlers) Register(client hub.Client) {
	client.RegisterMethod(MethodPublishNodes, h.PublishNodes)
	client.RegisterMethod(MethodPublishEvents, h.PublishEvents)
	client.RegisterMethod(MethodUnpublishNodes, h.UnpublishNodes)
	client.RegisterMethod(MethodUnpublishAllNodes, h.UnpublishAllNodes)
	client.RegisterMethod(MethodGetConfiguredEndpoints, h.GetConfiguredEndpoints)
	client.RegisterMethod(MethodGetConfiguredNodes, h.GetConfiguredNodesOnEndpoint)
	client.RegisterMethod(MethodGetConfiguredEvents, h.GetConfiguredEventsOnEndpoint)
	client.RegisterMethod(MethodDeleteEndpoint, h.DeleteConfiguredEndpoint)
	client.RegisterMethod(MethodGetConfigurationJSON, h.GetConfigurationJSON)
	client.RegisterMethod(MethodSaveConfigurationJSON, h.SaveConfigurationJSON)
	client.RegisterMethod(MethodGetDiagnosticInfo, h.GetDiagnosticInfo)
	client.RegisterDefaultHandler(h.Default)
}

// Default answers unknown method names.
func (h *Handlers) Default(ctx context.Context, payload []byte) (int, []byte) {
	return h.fail(http.StatusNotFound, "method not supported")
}

func (h *Handlers) shuttingDown() bool {
	return h.shutdown.Err() != nil
}

// PublishNodes configures data-change monitoring for the request's nodes,
// creating the session on first use. Per-entry failures are isolated; the
// worst per-entry status governs the response.
func (h *Handlers) PublishNodes(ctx context.Context, payload []byte) (int, []byte) {
	var req PublishNodesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return h.fail(http.StatusNotAcceptable, "invalid request: "+err.Error())
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	session, status, errBody := h.prepareSession(req.EndpointID, req.EndpointName, req.EndpointURL, req.UseSecurity, req.OpcAuthenticationMode, req.UserName, req.Password)
	if session == nil {
		return status, errBody
	}

	overall := http.StatusOK
	var statuses []string
	for _, node := range req.OpcNodes {
		id := node.EffectiveID()
		if id == "" {
			statuses = append(statuses, "node entry has no identifier")
			overall = worstStatus(overall, http.StatusNotAcceptable)
			continue
		}
		opts := publisher.DataChangeItemOptions{
			ID:                id,
			DisplayName:       node.DisplayName,
			SamplingInterval:  node.OpcSamplingInterval,
			HeartbeatInterval: node.HeartbeatInterval,
			SkipFirst:         node.SkipFirst,
			PublishMode:       node.IotCentralItemPublishMode,
		}
		st, err := session.AddNodeForMonitoring(h.shutdown, opts, node.OpcPublishingInterval)
		if err != nil {
			statuses = append(statuses, fmt.Sprintf("node %s: %v", id, err))
		}
		overall = worstStatus(overall, st)
	}

	if overall < http.StatusMultipleChoices {
		if err := h.registry.UpdateNodeConfigurationFile(h.shutdown); err != nil {
			h.logger.Error("failed to persist node configuration", "error", err)
			return h.fail(http.StatusInternalServerError, "failed to persist configuration: "+err.Error())
		}
		return h.respond(overall, PublishResponse{EndpointID: session.EndpointID.String()})
	}
	return h.fail(overall, statuses...)
}

// PublishEvents configures event monitoring. Exactly one event entry is
// accepted; any other count fails validation before the registry is
// touched.
func (h *Handlers) PublishEvents(ctx context.Context, payload []byte) (int, []byte) {
	var req PublishEventsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return h.fail(http.StatusNotAcceptable, "invalid request: "+err.Error())
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	session, status, errBody := h.prepareSession(req.EndpointID, req.EndpointName, req.EndpointURL, req.UseSecurity, req.OpcAuthenticationMode, req.UserName, req.Password)
	if session == nil {
		return status, errBody
	}

	eventCfg := req.OpcEvents[0]
	st, err := session.AddEventNodeForMonitoring(h.shutdown, &eventCfg, nil)
	if err != nil {
		return h.fail(st, fmt.Sprintf("event %s: %v", eventCfg.ID, err))
	}

	if err := h.registry.UpdateNodeConfigurationFile(h.shutdown); err != nil {
		h.logger.Error("failed to persist node configuration", "error", err)
		return h.fail(http.StatusInternalServerError, "failed to persist configuration: "+err.Error())
	}
	return h.respond(st, PublishResponse{EndpointID: session.EndpointID.String()})
}

// prepareSession resolves or creates the target session and applies any
// explicit credentials before the node/event list is processed. A nil
// session means the returned status and body are the final response.
func (h *Handlers) prepareSession(endpointID, endpointName, endpointURL string, useSecurity *bool, authMode, username, password string) (*publisher.OpcSession, int, []byte) {
	id := uuid.Nil
	if endpointID != "" {
		parsed, err := uuid.Parse(endpointID)
		if err != nil {
			status, body := h.fail(http.StatusNotAcceptable, "invalid EndpointId: "+err.Error())
			return nil, status, body
		}
		id = parsed
	}

	security := true
	if useSecurity != nil {
		security = *useSecurity
	}

	session, _, err := h.registry.EnsureSession(h.shutdown, id, endpointURL, security)
	if err != nil {
		status, body := h.fail(http.StatusGone, "failed to resolve session: "+err.Error())
		return nil, status, body
	}
	if endpointName != "" {
		session.EndpointName = endpointName
	}

	if authMode != "" || username != "" {
		mode := publisher.AuthModeAnonymous
		if authMode == string(publisher.AuthModeUsernamePassword) || username != "" {
			mode = publisher.AuthModeUsernamePassword
		}
		if _, err := session.ApplyAuthentication(h.shutdown, mode, username, password, h.cipher); err != nil {
			status, body := h.fail(http.StatusInternalServerError, "failed to apply credentials: "+err.Error())
			return nil, status, body
		}
	}

	return session, 0, nil
}

// UnpublishNodes tags the request's nodes for removal.
func (h *Handlers) UnpublishNodes(ctx context.Context, payload []byte) (int, []byte) {
	var req UnpublishNodesRequest
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
	session, err := h.registry.FindSession(h.shutdown, endpointID)
	if err != nil {
		return h.fail(http.StatusGone, err.Error())
	}
	if session == nil {
		return h.fail(http.StatusNotFound, "no session for endpoint "+req.EndpointID)
	}

	overall := http.StatusOK
	var statuses []string
	for _, node := range req.OpcNodes {
		id := node.EffectiveID()
		st, err := session.RequestRemoveNode(h.shutdown, id)
		if err != nil {
			statuses = append(statuses, fmt.Sprintf("node %s: %v", id, err))
		} else {
			statuses = append(statuses, fmt.Sprintf("node %s tagged for removal", id))
		}
		overall = worstStatus(overall, st)
	}

	if err := h.registry.UpdateNodeConfigurationFile(h.shutdown); err != nil {
		h.logger.Error("failed to persist node configuration", "error", err)
	}
	return h.respond(overall, StatusListResponse{Statuses: statuses})
}

// UnpublishAllNodes tags every node on one endpoint, or on all endpoints,
// for removal.
func (h *Handlers) UnpublishAllNodes(ctx context.Context, payload []byte) (int, []byte) {
	var req UnpublishAllNodesRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
		}
		if err := h.validate.Struct(&req); err != nil {
			return h.fail(http.StatusNotAcceptable, "invalid request: "+err.Error())
		}
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	var sessions []*publisher.OpcSession
	if req.EndpointID != "" {
		session, err := h.registry.FindSession(h.shutdown, uuid.MustParse(req.EndpointID))
		if err != nil {
			return h.fail(http.StatusGone, err.Error())
		}
		if session == nil {
			return h.fail(http.StatusNotFound, "no session for endpoint "+req.EndpointID)
		}
		sessions = append(sessions, session)
	} else {
		all, err := h.registry.Sessions(h.shutdown)
		if err != nil {
			return h.fail(http.StatusGone, err.Error())
		}
		sessions = all
	}

	var statuses []string
	for _, session := range sessions {
		tagged, err := session.RequestRemoveAllNodes(h.shutdown)
		if err != nil {
			statuses = append(statuses, fmt.Sprintf("endpoint %s: %v", session.EndpointID, err))
			continue
		}
		statuses = append(statuses, fmt.Sprintf("endpoint %s: %d items tagged for removal", session.EndpointID, tagged))
	}

	if err := h.registry.UpdateNodeConfigurationFile(h.shutdown); err != nil {
		h.logger.Error("failed to persist node configuration", "error", err)
	}
	return h.respond(http.StatusOK, StatusListResponse{Statuses: statuses})
}

// DeleteConfiguredEndpoint unpublishes everything on the endpoint and
// removes its session from the registry.
func (h *Handlers) DeleteConfiguredEndpoint(ctx context.Context, payload []byte) (int, []byte) {
	var req DeleteEndpointRequest
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
	session, err := h.registry.FindSession(h.shutdown, endpointID)
	if err != nil {
		return h.fail(http.StatusGone, err.Error())
	}
	if session == nil {
		return h.fail(http.StatusNotFound, "no session for endpoint "+req.EndpointID)
	}

	if _, err := session.RequestRemoveAllNodes(h.shutdown); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to unpublish endpoint: "+err.Error())
	}
	if err := h.registry.RemoveSession(h.shutdown, endpointID); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to remove session: "+err.Error())
	}
	if err := h.registry.UpdateNodeConfigurationFile(h.shutdown); err != nil {
		h.logger.Error("failed to persist node configuration", "error", err)
	}
	return h.respond(http.StatusOK, StatusListResponse{
		Statuses: []string{"endpoint " + req.EndpointID + " deleted"},
	})
}

// SaveConfigurationJSON replaces the published-nodes document and rebuilds
// the registry from it.
func (h *Handlers) SaveConfigurationJSON(ctx context.Context, payload []byte) (int, []byte) {
	var req SaveConfigurationJSONRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.fail(http.StatusInternalServerError, "failed to parse request: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return h.fail(http.StatusBadRequest, "invalid request: "+err.Error())
	}
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}

	if err := h.registry.SaveConfigurationJSON(h.shutdown, []byte(req.ConfigurationJSONString)); err != nil {
		return h.fail(http.StatusBadRequest, "invalid configuration document: "+err.Error())
	}
	return h.respond(http.StatusOK, StatusListResponse{Statuses: []string{"configuration saved"}})
}

// GetDiagnosticInfo reports the registry aggregates.
func (h *Handlers) GetDiagnosticInfo(ctx context.Context, payload []byte) (int, []byte) {
	if h.shuttingDown() {
		return h.fail(http.StatusGone, "shutdown in progress")
	}
	stats, err := h.registry.Stats(h.shutdown)
	if err != nil {
		return h.fail(http.StatusInternalServerError, err.Error())
	}
	return h.respond(http.StatusOK, stats)
}
