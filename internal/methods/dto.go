// Package methods implements the hub direct-method surface: publish and
// unpublish of nodes and events, configuration queries with continuation
// tokens, endpoint deletion and raw configuration round-trip.
package methods

import (
	"github.com/opcbridge/opcbridge/internal/publisher"
)

// Method names registered with the hub client.
const (
	MethodPublishNodes           = "PublishNodes"
	MethodPublishEvents          = "PublishEvents"
	MethodUnpublishNodes         = "UnpublishNodes"
	MethodUnpublishAllNodes      = "UnpublishAllNodes"
	MethodGetConfiguredEndpoints = "GetConfiguredEndpoints"
	MethodGetConfiguredNodes     = "GetConfiguredNodesOnEndpoint"
	MethodGetConfiguredEvents    = "GetConfiguredEventsOnEndpoint"
	MethodDeleteEndpoint         = "DeleteConfiguredEndpoint"
	MethodGetConfigurationJSON   = "GetOpcPublishedConfigurationAsJson"
	MethodSaveConfigurationJSON  = "SaveOpcPublishedConfigurationAsJson"
	MethodGetDiagnosticInfo      = "GetDiagnosticInfo"
)

// PublishNodesRequest configures data-change monitoring for a set of nodes
// on one endpoint.
type PublishNodesRequest struct {
	EndpointID            string                        `json:"EndpointId,omitempty" validate:"omitempty,uuid"`
	EndpointName          string                        `json:"EndpointName,omitempty"`
	EndpointURL           string                        `json:"EndpointUrl" validate:"required,uri"`
	UseSecurity           *bool                         `json:"UseSecurity,omitempty"`
	OpcAuthenticationMode string                        `json:"OpcAuthenticationMode,omitempty" validate:"omitempty,oneof=Anonymous UsernamePassword"`
	UserName              string                        `json:"UserName,omitempty"`
	Password              string                        `json:"Password,omitempty"`
	OpcNodes              []publisher.OpcNodeOnEndpoint `json:"OpcNodes" validate:"required,min=1"`
}

// PublishEventsRequest configures event monitoring. Exactly one event entry
// is accepted per call.
type PublishEventsRequest struct {
	EndpointID            string                         `json:"EndpointId,omitempty" validate:"omitempty,uuid"`
	EndpointName          string                         `json:"EndpointName,omitempty"`
	EndpointURL           string                         `json:"EndpointUrl" validate:"required,uri"`
	UseSecurity           *bool                          `json:"UseSecurity,omitempty"`
	OpcAuthenticationMode string                         `json:"OpcAuthenticationMode,omitempty" validate:"omitempty,oneof=Anonymous UsernamePassword"`
	UserName              string                         `json:"UserName,omitempty"`
	Password              string                         `json:"Password,omitempty"`
	OpcEvents             []publisher.EventConfiguration `json:"OpcEvents" validate:"required,len=1"`
}

// PublishResponse is the success body of publish calls.
type PublishResponse struct {
	EndpointID string `json:"EndpointId"`
}

// UnpublishNodesRequest removes monitoring for a set of nodes.
type UnpublishNodesRequest struct {
	EndpointID string                        `json:"EndpointId" validate:"required,uuid"`
	OpcNodes   []publisher.OpcNodeOnEndpoint `json:"OpcNodes" validate:"required,min=1"`
}

// UnpublishAllNodesRequest removes all monitoring on one endpoint, or on
// every endpoint when EndpointId is omitted.
type UnpublishAllNodesRequest struct {
	EndpointID string `json:"EndpointId,omitempty" validate:"omitempty,uuid"`
}

// GetConfiguredEndpointsResponse lists the configured endpoints.
type GetConfiguredEndpointsResponse struct {
	Endpoints []ConfiguredEndpoint `json:"Endpoints"`
}

// ConfiguredEndpoint is one endpoint summary row.
type ConfiguredEndpoint struct {
	EndpointID   string `json:"EndpointId"`
	EndpointName string `json:"EndpointName,omitempty"`
	EndpointURL  string `json:"EndpointUrl"`
}

// GetConfiguredNodesRequest pages through the nodes on one endpoint.
type GetConfiguredNodesRequest struct {
	EndpointID        string  `json:"EndpointId" validate:"required,uuid"`
	ContinuationToken *uint64 `json:"ContinuationToken,omitempty"`
}

// GetConfiguredNodesResponse is one page of configured nodes.
type GetConfiguredNodesResponse struct {
	EndpointID        string                        `json:"EndpointId"`
	OpcNodes          []publisher.OpcNodeOnEndpoint `json:"OpcNodes"`
	ContinuationToken *uint64                       `json:"ContinuationToken,omitempty"`
}

// GetConfiguredEventsResponse is one page of configured event sources.
type GetConfiguredEventsResponse struct {
	EndpointID        string                         `json:"EndpointId"`
	EventNodes        []publisher.EventConfiguration `json:"EventNodes"`
	ContinuationToken *uint64                        `json:"ContinuationToken,omitempty"`
}

// DeleteEndpointRequest removes one endpoint and all its monitoring.
type DeleteEndpointRequest struct {
	EndpointID string `json:"EndpointId" validate:"required,uuid"`
}

// ConfigurationJSONResponse carries the raw published-nodes document.
type ConfigurationJSONResponse struct {
	ConfigurationJSONString string `json:"ConfigurationJsonString"`
}

// SaveConfigurationJSONRequest replaces the published-nodes document.
type SaveConfigurationJSONRequest struct {
	ConfigurationJSONString string `json:"ConfigurationJsonString" validate:"required"`
}

// StatusListResponse is the error/status body of non-2xx outcomes and of
// unpublish calls: one human-readable line per processed entry.
type StatusListResponse struct {
	Statuses []string `json:"Statuses"`
}
