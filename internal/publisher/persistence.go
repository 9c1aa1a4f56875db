package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// OpcNodeOnEndpoint is the file/wire form of one data-change node entry.
// Optional fields absent in the source document must stay absent on
// round-trip save, hence pointers with omitempty throughout.
type OpcNodeOnEndpoint struct {
	ID                        string       `json:"Id,omitempty"`
	ExpandedNodeID            string       `json:"ExpandedNodeId,omitempty"`
	OpcSamplingInterval       *int         `json:"OpcSamplingInterval,omitempty"`
	OpcPublishingInterval     *int         `json:"OpcPublishingInterval,omitempty"`
	DisplayName               string       `json:"DisplayName,omitempty"`
	HeartbeatInterval         *int         `json:"HeartbeatInterval,omitempty"`
	SkipFirst                 *bool        `json:"SkipFirst,omitempty"`
	IotCentralItemPublishMode *PublishMode `json:"IotCentralItemPublishMode,omitempty"`
}

// EffectiveID returns whichever identifier form the entry carries.
func (n *OpcNodeOnEndpoint) EffectiveID() string {
	if n.ExpandedNodeID != "" {
		return n.ExpandedNodeID
	}
	return n.ID
}

// PublisherConfigFileEntry is one endpoint entry of the published-nodes
// document: the endpoint identity plus its node and event lists.
type PublisherConfigFileEntry struct {
	EndpointID            *uuid.UUID           `json:"EndpointId,omitempty"`
	EndpointName          string               `json:"EndpointName,omitempty"`
	EndpointURL           string               `json:"EndpointUrl"`
	UseSecurity           *bool                `json:"UseSecurity,omitempty"`
	OpcAuthenticationMode AuthMode             `json:"OpcAuthenticationMode,omitempty"`
	EncryptedAuthUsername string               `json:"EncryptedAuthUsername,omitempty"`
	EncryptedAuthPassword string               `json:"EncryptedAuthPassword,omitempty"`
	OpcNodes              []OpcNodeOnEndpoint  `json:"OpcNodes,omitempty"`
	OpcEvents             []EventConfiguration `json:"OpcEvents,omitempty"`
}

// ParseConfigurationEntries parses and structurally validates a
// published-nodes document.
func ParseConfigurationEntries(raw []byte) ([]PublisherConfigFileEntry, error) {
	var entries []PublisherConfigFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse node configuration: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.EndpointURL == "" {
			return nil, fmt.Errorf("configuration entry %d has no EndpointUrl", i)
		}
		for j := range e.OpcNodes {
			if e.OpcNodes[j].EffectiveID() == "" {
				return nil, fmt.Errorf("configuration entry %d node %d has no identifier", i, j)
			}
		}
		for j := range e.OpcEvents {
			if err := e.OpcEvents[j].Validate(); err != nil {
				return nil, fmt.Errorf("configuration entry %d: %w", i, err)
			}
		}
	}
	return entries, nil
}

// ReadConfig loads the published-nodes document from the configured path.
// A missing file is an empty configuration; a malformed one is fatal for
// the load attempt.
func (nc *NodeConfiguration) ReadConfig(ctx context.Context) ([]PublisherConfigFileEntry, error) {
	if err := nc.configLock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("configuration lock: %w", err)
	}
	defer nc.configLock.Release()

	raw, err := os.ReadFile(nc.configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			nc.logger.Info("node configuration file not found, starting empty", "path", nc.configFile)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read node configuration %s: %w", nc.configFile, err)
	}

	entries, err := ParseConfigurationEntries(raw)
	if err != nil {
		nc.logger.Error("node configuration file is invalid", "path", nc.configFile, "error", err)
		return nil, err
	}
	nc.logger.Info("node configuration loaded", "path", nc.configFile, "endpoints", len(entries))
	return entries, nil
}

// CreateOpcPublishingData materializes sessions, subscriptions and monitored
// items from configuration entries. Node and event configuration for the
// same endpoint share one session. Any structural error aborts the load.
func (nc *NodeConfiguration) CreateOpcPublishingData(ctx context.Context, entries []PublisherConfigFileEntry) error {
	for i := range entries {
		entry := &entries[i]

		endpointID := uuid.Nil
		if entry.EndpointID != nil {
			endpointID = *entry.EndpointID
		}
		useSecurity := true
		if entry.UseSecurity != nil {
			useSecurity = *entry.UseSecurity
		}

		session, _, err := nc.EnsureSession(ctx, endpointID, entry.EndpointURL, useSecurity)
		if err != nil {
			return err
		}
		if entry.EndpointName != "" {
			session.EndpointName = entry.EndpointName
		}
		if entry.OpcAuthenticationMode != "" {
			session.AuthMode = entry.OpcAuthenticationMode
			session.EncryptedUsername = entry.EncryptedAuthUsername
			session.EncryptedPassword = entry.EncryptedAuthPassword
		}

		for j := range entry.OpcNodes {
			node := &entry.OpcNodes[j]
			opts := DataChangeItemOptions{
				ID:                node.EffectiveID(),
				DisplayName:       node.DisplayName,
				SamplingInterval:  node.OpcSamplingInterval,
				HeartbeatInterval: node.HeartbeatInterval,
				SkipFirst:         node.SkipFirst,
				PublishMode:       node.IotCentralItemPublishMode,
			}
			if _, err := session.AddNodeForMonitoring(ctx, opts, node.OpcPublishingInterval); err != nil {
				return fmt.Errorf("endpoint %s node %s: %w", entry.EndpointURL, opts.ID, err)
			}
		}

		for j := range entry.OpcEvents {
			ev := entry.OpcEvents[j]
			status, err := session.AddEventNodeForMonitoring(ctx, &ev, nil)
			if err != nil {
				return fmt.Errorf("endpoint %s event %s (status %d): %w", entry.EndpointURL, ev.ID, status, err)
			}
		}
	}
	return nil
}

// GetPublisherConfigurationFileEntries produces the persistable view of the
// current graph. endpointID filters to one endpoint when non-zero. Items
// pending removal are excluded unless getAll is set. Sessions whose lock is
// busy are mid-mutation and skipped, not blocked on. Only explicitly
// configured fields are emitted; the returned version is read after the
// traversal.
func (nc *NodeConfiguration) GetPublisherConfigurationFileEntries(ctx context.Context, endpointID uuid.UUID, getAll bool) ([]PublisherConfigFileEntry, uint32, error) {
	if err := nc.configLock.Acquire(ctx); err != nil {
		return nil, 0, fmt.Errorf("configuration lock: %w", err)
	}
	defer nc.configLock.Release()
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return nil, 0, fmt.Errorf("session list lock: %w", err)
	}
	defer nc.sessionsLock.Release()

	entries := make([]PublisherConfigFileEntry, 0, len(nc.OpcSessions))
	for _, session := range nc.OpcSessions {
		if endpointID != uuid.Nil && session.EndpointID != endpointID {
			continue
		}
		if !session.Lock().TryAcquire() {
			nc.logger.Debug("session busy, excluded from snapshot",
				"endpoint_id", session.EndpointID.String(),
			)
			continue
		}
		entries = append(entries, snapshotSessionLocked(session, getAll))
		session.Lock().Release()
	}

	version := nc.nodeConfigVersion.Load()
	return entries, version, nil
}

func snapshotSessionLocked(session *OpcSession, getAll bool) PublisherConfigFileEntry {
	id := session.EndpointID
	useSecurity := session.UseSecurity
	entry := PublisherConfigFileEntry{
		EndpointID:   &id,
		EndpointName: session.EndpointName,
		EndpointURL:  session.EndpointURL,
		UseSecurity:  &useSecurity,
	}
	if session.AuthMode != "" && session.AuthMode != AuthModeAnonymous {
		entry.OpcAuthenticationMode = session.AuthMode
		entry.EncryptedAuthUsername = session.EncryptedUsername
		entry.EncryptedAuthPassword = session.EncryptedPassword
	}

	for _, sub := range session.OpcSubscriptions {
		for _, mi := range sub.OpcMonitoredItems {
			if mi.State == ItemStateRemovalRequested && !getAll {
				continue
			}
			node := OpcNodeOnEndpoint{DisplayName: mi.DisplayName}
			if mi.ConfigType == ConfigTypeExpandedNodeID {
				node.ExpandedNodeID = mi.ID
			} else {
				node.ID = mi.ID
			}
			if sub.PublishingIntervalFromConfig {
				interval := sub.RequestedPublishingInterval
				node.OpcPublishingInterval = &interval
			}
			if mi.SamplingIntervalFromConfig {
				interval := mi.RequestedSamplingInterval
				node.OpcSamplingInterval = &interval
			}
			if mi.HeartbeatIntervalFromConfig {
				heartbeat := mi.HeartbeatInterval
				node.HeartbeatInterval = &heartbeat
			}
			if mi.SkipFirstFromConfig {
				skip := mi.SkipFirst
				node.SkipFirst = &skip
			}
			if mi.PublishModeFromConfig {
				mode := mi.PublishMode
				node.IotCentralItemPublishMode = &mode
			}
			entry.OpcNodes = append(entry.OpcNodes, node)
		}
	}

	for _, sub := range session.OpcEventSubscriptions {
		for _, mi := range sub.OpcMonitoredItems {
			if mi.State == ItemStateRemovalRequested && !getAll {
				continue
			}
			if mi.EventConfiguration != nil {
				entry.OpcEvents = append(entry.OpcEvents, *mi.EventConfiguration.clone())
			}
		}
	}

	return entry
}

// UpdateNodeConfigurationFile persists the full current graph, overwriting
// the published-nodes file.
func (nc *NodeConfiguration) UpdateNodeConfigurationFile(ctx context.Context) error {
	entries, _, err := nc.GetPublisherConfigurationFileEntries(ctx, uuid.Nil, true)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode node configuration: %w", err)
	}

	if err := nc.fileLock.Acquire(ctx); err != nil {
		return fmt.Errorf("file lock: %w", err)
	}
	defer nc.fileLock.Release()

	if err := os.WriteFile(nc.configFile, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write node configuration %s: %w", nc.configFile, err)
	}
	nc.logger.Info("node configuration persisted", "path", nc.configFile, "endpoints", len(entries))
	return nil
}

// SaveConfigurationJSON validates and persists a replacement document, then
// rebuilds the whole session graph from it.
func (nc *NodeConfiguration) SaveConfigurationJSON(ctx context.Context, raw []byte) error {
	entries, err := ParseConfigurationEntries(raw)
	if err != nil {
		return err
	}

	if err := nc.fileLock.Acquire(ctx); err != nil {
		return fmt.Errorf("file lock: %w", err)
	}
	if err := os.WriteFile(nc.configFile, raw, 0o644); err != nil {
		nc.fileLock.Release()
		return fmt.Errorf("failed to write node configuration %s: %w", nc.configFile, err)
	}
	nc.fileLock.Release()

	return nc.Reinitialize(ctx, entries)
}

// ConfigurationJSON returns the current graph as a published-nodes document.
func (nc *NodeConfiguration) ConfigurationJSON(ctx context.Context) ([]byte, error) {
	entries, _, err := nc.GetPublisherConfigurationFileEntries(ctx, uuid.Nil, false)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode node configuration: %w", err)
	}
	return raw, nil
}
