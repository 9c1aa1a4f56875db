package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/auth"
)

// NodeConfiguration is the session registry: the root of the ownership graph
// and the single source of truth mutated by remote configuration calls.
//
// Three semaphores guard it: configLock around load/parse/snapshot of the
// configuration structures, sessionsLock around the session list itself, and
// fileLock around the published-nodes file. Acquisition order is fixed:
// configLock before sessionsLock, never the reverse.
type NodeConfiguration struct {
	configLock   Semaphore
	sessionsLock Semaphore
	fileLock     Semaphore

	OpcSessions []*OpcSession

	nodeConfigVersion atomic.Uint32

	// OnSessionCreated lets the protocol layer start a connect loop for
	// sessions created at runtime by publish calls. Invoked outside the
	// session-list lock.
	OnSessionCreated func(*OpcSession)

	configFile string
	settings   *Settings
	router     TelemetryRouter
	cipher     *auth.Cipher
	logger     *slog.Logger
}

// NewNodeConfiguration constructs an empty registry.
func NewNodeConfiguration(configFile string, settings *Settings, router TelemetryRouter, cipher *auth.Cipher, logger *slog.Logger) *NodeConfiguration {
	return &NodeConfiguration{
		configLock:   NewSemaphore(),
		sessionsLock: NewSemaphore(),
		fileLock:     NewSemaphore(),
		configFile:   configFile,
		settings:     settings,
		router:       router,
		cipher:       cipher,
		logger:       logger.With("component", "node_configuration"),
	}
}

// Version returns the current configuration version.
func (nc *NodeConfiguration) Version() uint32 {
	return nc.nodeConfigVersion.Load()
}

// BumpVersion increments the configuration version; called on every
// monitored-item add.
func (nc *NodeConfiguration) BumpVersion() {
	nc.nodeConfigVersion.Add(1)
}

// Init loads the published-nodes file and materializes the session graph.
// A parse or structural error is fatal for the load attempt.
func (nc *NodeConfiguration) Init(ctx context.Context) error {
	entries, err := nc.ReadConfig(ctx)
	if err != nil {
		return err
	}
	return nc.CreateOpcPublishingData(ctx, entries)
}

// FindSession returns the session owning the endpoint id, or nil.
func (nc *NodeConfiguration) FindSession(ctx context.Context, endpointID uuid.UUID) (*OpcSession, error) {
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("session list lock: %w", err)
	}
	defer nc.sessionsLock.Release()
	return nc.findSessionLocked(endpointID), nil
}

func (nc *NodeConfiguration) findSessionLocked(endpointID uuid.UUID) *OpcSession {
	for _, s := range nc.OpcSessions {
		if s.EndpointID == endpointID {
			return s
		}
	}
	return nil
}

// findSessionByURLLocked matches on endpoint URL, used when a publish call
// names an endpoint only by its URL.
func (nc *NodeConfiguration) findSessionByURLLocked(endpointURL string) *OpcSession {
	for _, s := range nc.OpcSessions {
		if s.EndpointURL == endpointURL {
			return s
		}
	}
	return nil
}

// EnsureSession returns the session for the endpoint, creating and
// registering a new one when none exists. Lookup prefers the endpoint id;
// a zero id falls back to URL matching. Reports whether a session was
// created.
func (nc *NodeConfiguration) EnsureSession(ctx context.Context, endpointID uuid.UUID, endpointURL string, useSecurity bool) (*OpcSession, bool, error) {
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return nil, false, fmt.Errorf("session list lock: %w", err)
	}

	var session *OpcSession
	if endpointID != uuid.Nil {
		session = nc.findSessionLocked(endpointID)
	}
	if session == nil && endpointURL != "" {
		session = nc.findSessionByURLLocked(endpointURL)
	}
	if session != nil {
		nc.sessionsLock.Release()
		return session, false, nil
	}

	if endpointID == uuid.Nil {
		endpointID = uuid.New()
	}
	session = NewOpcSession(endpointID, endpointURL, useSecurity, nc.settings, nc.router, nc.BumpVersion, nc.logger)
	nc.OpcSessions = append(nc.OpcSessions, session)
	nc.sessionsLock.Release()

	nc.logger.Info("session created",
		"endpoint_id", endpointID.String(),
		"endpoint_url", endpointURL,
	)
	if nc.OnSessionCreated != nil {
		nc.OnSessionCreated(session)
	}
	return session, true, nil
}

// RemoveSession shuts the session down and removes it from the registry.
func (nc *NodeConfiguration) RemoveSession(ctx context.Context, endpointID uuid.UUID) error {
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return fmt.Errorf("session list lock: %w", err)
	}

	var session *OpcSession
	kept := nc.OpcSessions[:0]
	for _, s := range nc.OpcSessions {
		if s.EndpointID == endpointID {
			session = s
			continue
		}
		kept = append(kept, s)
	}
	nc.OpcSessions = kept
	nc.sessionsLock.Release()

	if session == nil {
		return fmt.Errorf("no session for endpoint %s", endpointID)
	}
	if err := session.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown session %s: %w", endpointID, err)
	}
	nc.logger.Info("session removed", "endpoint_id", endpointID.String())
	return nil
}

// Sessions returns a point-in-time copy of the session list.
func (nc *NodeConfiguration) Sessions(ctx context.Context) ([]*OpcSession, error) {
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("session list lock: %w", err)
	}
	defer nc.sessionsLock.Release()
	return append([]*OpcSession(nil), nc.OpcSessions...), nil
}

// Diagnostics is the on-demand aggregate view over the whole registry.
type Diagnostics struct {
	SessionsConfigured            int    `json:"SessionsConfigured"`
	SessionsConnected             int    `json:"SessionsConnected"`
	SubscriptionsConfigured       int    `json:"SubscriptionsConfigured"`
	EventSubscriptionsConfigured  int    `json:"EventSubscriptionsConfigured"`
	MonitoredItemsConfigured      int    `json:"MonitoredItemsConfigured"`
	MonitoredItemsMonitored       int    `json:"MonitoredItemsMonitored"`
	MonitoredItemsToRemove        int    `json:"MonitoredItemsToRemove"`
	MonitoredEventItemsConfigured int    `json:"MonitoredEventItemsConfigured"`
	MonitoredEventItemsMonitored  int    `json:"MonitoredEventItemsMonitored"`
	MonitoredEventItemsToRemove   int    `json:"MonitoredEventItemsToRemove"`
	NodeConfigVersion             uint32 `json:"NodeConfigVersion"`
}

// Stats computes the aggregate counters. Never cached: always reflects the
// structural snapshot at the moment of the call. Counts require the session
// lock, so sessions mid-mutation are skipped rather than blocked on, the
// same discipline configuration snapshots use.
func (nc *NodeConfiguration) Stats(ctx context.Context) (Diagnostics, error) {
	var d Diagnostics
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return d, fmt.Errorf("session list lock: %w", err)
	}
	defer nc.sessionsLock.Release()

	d.SessionsConfigured = len(nc.OpcSessions)
	for _, s := range nc.OpcSessions {
		if s.State() == SessionStateConnected {
			d.SessionsConnected++
		}
		if !s.Lock().TryAcquire() {
			nc.logger.Debug("session busy, excluded from diagnostics",
				"endpoint_id", s.EndpointID.String(),
			)
			continue
		}
		c := s.Counts()
		s.Lock().Release()
		d.SubscriptionsConfigured += c.SubscriptionsConfigured
		d.EventSubscriptionsConfigured += c.EventSubscriptionsConfigured
		d.MonitoredItemsConfigured += c.ItemsConfigured
		d.MonitoredItemsMonitored += c.ItemsMonitored
		d.MonitoredItemsToRemove += c.ItemsToRemove
		d.MonitoredEventItemsConfigured += c.EventItemsConfigured
		d.MonitoredEventItemsMonitored += c.EventItemsMonitored
		d.MonitoredEventItemsToRemove += c.EventItemsToRemove
	}
	d.NodeConfigVersion = nc.nodeConfigVersion.Load()
	return d, nil
}

// Shutdown shuts every session down. Called once at process teardown.
func (nc *NodeConfiguration) Shutdown(ctx context.Context) error {
	sessions, err := nc.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := s.Shutdown(ctx); err != nil {
			nc.logger.Warn("session shutdown failed",
				"endpoint_id", s.EndpointID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Reinitialize replaces the whole session graph with the one described by
// the given configuration entries. Used by the save-configuration method
// after the new document was persisted.
func (nc *NodeConfiguration) Reinitialize(ctx context.Context, entries []PublisherConfigFileEntry) error {
	if err := nc.sessionsLock.Acquire(ctx); err != nil {
		return fmt.Errorf("session list lock: %w", err)
	}
	old := nc.OpcSessions
	nc.OpcSessions = nil
	nc.sessionsLock.Release()

	for _, s := range old {
		if err := s.Shutdown(ctx); err != nil {
			nc.logger.Warn("session shutdown failed during re-init",
				"endpoint_id", s.EndpointID.String(),
				"error", err,
			)
		}
	}

	return nc.CreateOpcPublishingData(ctx, entries)
}
