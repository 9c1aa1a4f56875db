package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/auth"
)

// OpcSession represents one connection to one OPC UA endpoint. It owns two
// independent subscription collections (data-change and event) and the
// per-session lock that makes structural changes linearizable with respect
// to concurrent reconnects and registry snapshots.
type OpcSession struct {
	EndpointID   uuid.UUID
	EndpointName string
	EndpointURL  string
	UseSecurity  bool

	AuthMode          AuthMode
	EncryptedUsername string
	EncryptedPassword string

	OpcSubscriptions      []*OpcSubscription
	OpcEventSubscriptions []*OpcSubscription

	// ApplicationURI is filled in once the endpoint reports it; stamped
	// onto every message the session's items produce.
	ApplicationURI string

	lock  Semaphore
	state atomic.Int32

	shuttingDown bool
	conn         UaConnection
	resolver     NamespaceResolver

	// connectTrigger wakes the protocol layer's connect/monitor loop; a
	// single pending signal is enough, extra signals coalesce.
	connectTrigger chan struct{}

	// done is closed by Shutdown so the protocol layer's loop can exit
	// instead of redialing a deleted endpoint.
	done chan struct{}

	// onItemAdded bumps the registry's configuration version.
	onItemAdded func()

	settings *Settings
	router   TelemetryRouter
	logger   *slog.Logger
}

// NewOpcSession constructs a disconnected session for one endpoint.
func NewOpcSession(endpointID uuid.UUID, endpointURL string, useSecurity bool, settings *Settings, router TelemetryRouter, onItemAdded func(), logger *slog.Logger) *OpcSession {
	return &OpcSession{
		EndpointID:     endpointID,
		EndpointURL:    endpointURL,
		UseSecurity:    useSecurity,
		AuthMode:       AuthModeAnonymous,
		lock:           NewSemaphore(),
		connectTrigger: make(chan struct{}, 1),
		done:           make(chan struct{}),
		onItemAdded:    onItemAdded,
		settings:       settings,
		router:         router,
		logger: logger.With(
			"component", "session",
			"endpoint_id", endpointID.String(),
			"endpoint_url", endpointURL,
		),
	}
}

// State returns the current connection state.
func (s *OpcSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Lock exposes the session lock for callers that traverse the subscription
// graph, such as registry snapshots.
func (s *OpcSession) Lock() Semaphore {
	return s.lock
}

// ConnectTrigger is the channel the protocol layer selects on to learn that
// the session has work: new items to monitor or a reconnect request.
func (s *OpcSession) ConnectTrigger() <-chan struct{} {
	return s.connectTrigger
}

// Done is closed once the session has been shut down.
func (s *OpcSession) Done() <-chan struct{} {
	return s.done
}

// SignalConnect wakes the protocol layer; signals coalesce.
func (s *OpcSession) SignalConnect() {
	select {
	case s.connectTrigger <- struct{}{}:
	default:
	}
}

func (s *OpcSession) stamp() EndpointStamp {
	return EndpointStamp{
		EndpointID:     s.EndpointID,
		EndpointURL:    s.EndpointURL,
		ApplicationURI: s.ApplicationURI,
	}
}

// counterpartID translates between the NodeId and ExpandedNodeId wire forms
// using the live namespace table. Only possible while connected; callers
// treat an empty result as "no counterpart known".
func (s *OpcSession) counterpartID(id string) string {
	if s.State() != SessionStateConnected || s.resolver == nil {
		return ""
	}
	counterpart, err := s.resolver.CounterpartID(id)
	if err != nil {
		s.logger.Debug("failed to resolve counterpart identifier", "node_id", id, "error", err)
		return ""
	}
	return counterpart
}

// AddNodeForMonitoring configures monitoring for one value node. Returns
// http.StatusOK when the identity is already monitored, http.StatusAccepted
// when a new item was added and the connect trigger signalled, or
// http.StatusGone when shutdown pre-empted the operation.
func (s *OpcSession) AddNodeForMonitoring(ctx context.Context, opts DataChangeItemOptions, publishingInterval *int) (int, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return http.StatusGone, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return http.StatusGone, fmt.Errorf("session for endpoint %s is shutting down", s.EndpointID)
	}

	interval := s.settings.DefaultPublishingIntervalMS
	fromConfig := false
	if publishingInterval != nil {
		interval = *publishingInterval
		fromConfig = true
	}

	sub := s.findDataChangeSubscription(interval)
	if sub == nil {
		sub = newDataChangeSubscription(interval, fromConfig)
		s.OpcSubscriptions = append(s.OpcSubscriptions, sub)
	}

	counterpart := s.counterpartID(opts.ID)
	for _, existing := range s.OpcSubscriptions {
		if mi := existing.FindItem(opts.ID, counterpart); mi != nil {
			s.logger.Debug("node already monitored", "node_id", opts.ID)
			return http.StatusOK, nil
		}
	}

	mi := newDataChangeItem(opts, s.stamp(), s.settings, s.router, s.logger)
	sub.AddItem(mi)
	if s.onItemAdded != nil {
		s.onItemAdded()
	}
	s.SignalConnect()
	s.logger.Info("node queued for monitoring",
		"node_id", opts.ID,
		"publishing_interval_ms", interval,
	)
	return http.StatusAccepted, nil
}

// AddEventNodeForMonitoring configures monitoring for one event source node.
// Status semantics match AddNodeForMonitoring. An existing item for the same
// identity wins: the incoming event configuration is not re-applied to it.
func (s *OpcSession) AddEventNodeForMonitoring(ctx context.Context, eventCfg *EventConfiguration, publishingInterval *int) (int, error) {
	if err := eventCfg.Validate(); err != nil {
		return http.StatusNotAcceptable, err
	}

	if err := s.lock.Acquire(ctx); err != nil {
		return http.StatusGone, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return http.StatusGone, fmt.Errorf("session for endpoint %s is shutting down", s.EndpointID)
	}

	interval := s.settings.DefaultPublishingIntervalMS
	fromConfig := false
	if publishingInterval != nil {
		interval = *publishingInterval
		fromConfig = true
	}

	counterpart := s.counterpartID(eventCfg.ID)
	for _, existing := range s.OpcEventSubscriptions {
		if mi := existing.FindItem(eventCfg.ID, counterpart); mi != nil {
			s.logger.Debug("event source already monitored", "node_id", eventCfg.ID)
			return http.StatusOK, nil
		}
	}

	sub := s.findEventSubscription(eventCfg.ID)
	if sub == nil {
		sub = newEventSubscription(eventCfg.ID, interval, fromConfig)
		s.OpcEventSubscriptions = append(s.OpcEventSubscriptions, sub)
	}

	mi := newEventItem(eventCfg.clone(), s.stamp(), s.settings, s.router, s.logger)
	sub.AddItem(mi)
	if s.onItemAdded != nil {
		s.onItemAdded()
	}
	s.SignalConnect()
	s.logger.Info("event source queued for monitoring",
		"node_id", eventCfg.ID,
		"select_clauses", len(eventCfg.SelectClauses),
	)
	return http.StatusAccepted, nil
}

// RequestRemoveNode marks every item monitoring the identity for removal.
// The physical detach happens on the next reconciliation pass. Returns
// http.StatusOK when at least one item was tagged, http.StatusNotFound when
// none matched.
func (s *OpcSession) RequestRemoveNode(ctx context.Context, id string) (int, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return http.StatusGone, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return http.StatusGone, fmt.Errorf("session for endpoint %s is shutting down", s.EndpointID)
	}

	counterpart := s.counterpartID(id)
	tagged := 0
	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			for _, mi := range sub.OpcMonitoredItems {
				if mi.State == ItemStateRemovalRequested {
					continue
				}
				if mi.Matches(id, counterpart) {
					mi.State = ItemStateRemovalRequested
					tagged++
				}
			}
		}
	}

	if tagged == 0 {
		return http.StatusNotFound, fmt.Errorf("node %s is not published on endpoint %s", id, s.EndpointID)
	}
	s.SignalConnect()
	s.logger.Info("node tagged for removal", "node_id", id, "items", tagged)
	return http.StatusOK, nil
}

// RequestRemoveAllNodes marks every item on the session for removal and
// returns how many were tagged.
func (s *OpcSession) RequestRemoveAllNodes(ctx context.Context) (int, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return 0, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	tagged := 0
	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			for _, mi := range sub.OpcMonitoredItems {
				if mi.State != ItemStateRemovalRequested {
					mi.State = ItemStateRemovalRequested
					tagged++
				}
			}
		}
	}
	if tagged > 0 {
		s.SignalConnect()
		s.logger.Info("all nodes tagged for removal", "items", tagged)
	}
	return tagged, nil
}

// ApplyAuthentication updates the session's credentials when a publish call
// carries explicit ones that differ from the current state, and requests a
// reconnect so the new identity takes effect. Must run before the call's
// node list is processed. Reports whether anything changed.
func (s *OpcSession) ApplyAuthentication(ctx context.Context, mode AuthMode, username, password string, cipher *auth.Cipher) (bool, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return false, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	encUser, encPass := "", ""
	if mode == AuthModeUsernamePassword {
		var err error
		if encUser, err = cipher.Encrypt(username); err != nil {
			return false, fmt.Errorf("encrypt username: %w", err)
		}
		if encPass, err = cipher.Encrypt(password); err != nil {
			return false, fmt.Errorf("encrypt password: %w", err)
		}
	}

	if s.AuthMode == mode && s.EncryptedUsername == encUser && s.EncryptedPassword == encPass {
		return false, nil
	}

	s.AuthMode = mode
	s.EncryptedUsername = encUser
	s.EncryptedPassword = encPass
	s.state.Store(int32(SessionStateDisconnected))
	s.SignalConnect()
	s.logger.Info("authentication mode updated, reconnect requested", "auth_mode", string(mode))
	return true, nil
}

// MarkConnecting is called by the protocol layer when it starts a connect
// attempt. A shut-down session refuses so a deleted endpoint is never
// redialed.
func (s *OpcSession) MarkConnecting(ctx context.Context) error {
	if err := s.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return fmt.Errorf("session for endpoint %s is shut down", s.EndpointID)
	}
	s.state.Store(int32(SessionStateConnecting))
	return nil
}

// MarkConnected records the established connection and its namespace
// resolver, then re-seeds every item's skip-first flag so each discards at
// most one post-connect notification.
func (s *OpcSession) MarkConnected(ctx context.Context, conn UaConnection, resolver NamespaceResolver, applicationURI string) error {
	if err := s.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return fmt.Errorf("session for endpoint %s is shut down", s.EndpointID)
	}

	s.conn = conn
	s.resolver = resolver
	if applicationURI != "" {
		s.ApplicationURI = applicationURI
	}
	s.state.Store(int32(SessionStateConnected))

	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			for _, mi := range sub.OpcMonitoredItems {
				mi.Endpoint.ApplicationURI = s.ApplicationURI
				mi.ResetSkipFirst()
			}
		}
	}

	s.logger.Info("session connected", "application_uri", s.ApplicationURI)
	return nil
}

// MarkDisconnected records a lost connection. Monitored items fall back to
// unmonitored so the next connect re-creates them on the wire.
func (s *OpcSession) MarkDisconnected(ctx context.Context) error {
	if err := s.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	s.conn = nil
	s.resolver = nil
	s.state.Store(int32(SessionStateDisconnected))

	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			for _, mi := range sub.OpcMonitoredItems {
				if mi.State == ItemStateMonitored {
					mi.State = ItemStateUnmonitored
				}
			}
		}
	}

	s.logger.Warn("session disconnected")
	return nil
}

// Reconcile prunes items tagged for removal from all subscriptions and drops
// subscriptions left empty. The protocol layer calls this after detaching
// the corresponding wire-level monitored items.
func (s *OpcSession) Reconcile(ctx context.Context) ([]*OpcMonitoredItem, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	var removed []*OpcMonitoredItem
	s.OpcSubscriptions = pruneSubscriptions(s.OpcSubscriptions, &removed)
	s.OpcEventSubscriptions = pruneSubscriptions(s.OpcEventSubscriptions, &removed)
	if len(removed) > 0 {
		s.logger.Info("pruned removed items", "items", len(removed))
	}
	return removed, nil
}

func pruneSubscriptions(subs []*OpcSubscription, removed *[]*OpcMonitoredItem) []*OpcSubscription {
	kept := subs[:0]
	for _, sub := range subs {
		*removed = append(*removed, sub.PruneRemoved()...)
		if len(sub.OpcMonitoredItems) > 0 {
			kept = append(kept, sub)
		}
	}
	return kept
}

// Shutdown closes the protocol connection and stops every heartbeat timer.
// Further structural operations return Gone.
func (s *OpcSession) Shutdown(ctx context.Context) error {
	if err := s.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	if s.shuttingDown {
		return nil
	}
	s.shuttingDown = true
	close(s.done)
	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			for _, mi := range sub.OpcMonitoredItems {
				mi.StopHeartbeat()
			}
		}
	}

	s.state.Store(int32(SessionStateDisconnected))
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close protocol session", "error", err)
		}
		s.conn = nil
	}
	s.logger.Info("session shut down")
	return nil
}

// IsPublished reports whether the identity has a live item on this session.
func (s *OpcSession) IsPublished(ctx context.Context, id string) (bool, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return false, fmt.Errorf("session lock: %w", err)
	}
	defer s.lock.Release()

	counterpart := s.counterpartID(id)
	for _, collection := range [][]*OpcSubscription{s.OpcSubscriptions, s.OpcEventSubscriptions} {
		for _, sub := range collection {
			if sub.FindItem(id, counterpart) != nil {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *OpcSession) findDataChangeSubscription(interval int) *OpcSubscription {
	for _, sub := range s.OpcSubscriptions {
		if sub.RequestedPublishingInterval == interval {
			return sub
		}
	}
	return nil
}

func (s *OpcSession) findEventSubscription(sourceID string) *OpcSubscription {
	for _, sub := range s.OpcEventSubscriptions {
		if sub.EventSourceID == sourceID {
			return sub
		}
	}
	return nil
}

// SessionCounts is the per-session contribution to the registry aggregates.
type SessionCounts struct {
	SubscriptionsConfigured      int
	EventSubscriptionsConfigured int
	ItemsConfigured              int
	ItemsMonitored               int
	ItemsToRemove                int
	EventItemsConfigured         int
	EventItemsMonitored          int
	EventItemsToRemove           int
}

// Counts sums this session's subscriptions and items. Caller must hold the
// session lock or otherwise guarantee a quiescent graph.
func (s *OpcSession) Counts() SessionCounts {
	var c SessionCounts
	c.SubscriptionsConfigured = len(s.OpcSubscriptions)
	c.EventSubscriptionsConfigured = len(s.OpcEventSubscriptions)
	for _, sub := range s.OpcSubscriptions {
		c.ItemsConfigured += sub.CountConfigured()
		c.ItemsMonitored += sub.CountMonitored()
		c.ItemsToRemove += sub.CountToRemove()
	}
	for _, sub := range s.OpcEventSubscriptions {
		c.EventItemsConfigured += sub.CountConfigured()
		c.EventItemsMonitored += sub.CountMonitored()
		c.EventItemsToRemove += sub.CountToRemove()
	}
	return c
}
