package uaclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/config"
	"github.com/opcbridge/opcbridge/internal/publisher"
)

// Manager runs one connect/monitor loop per registered session. Sessions
// created at runtime by publish calls are picked up through the registry's
// creation hook.
type Manager struct {
	cfg      config.SessionConfig
	cipher   *auth.Cipher
	registry *publisher.NodeConfiguration
	logger   *slog.Logger

	mu      sync.Mutex
	runCtx  context.Context
	started map[*publisher.OpcSession]struct{}
	wg      sync.WaitGroup
}

// NewManager builds the protocol layer around the registry.
func NewManager(cfg config.SessionConfig, cipher *auth.Cipher, registry *publisher.NodeConfiguration, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		cipher:   cipher,
		registry: registry,
		started:  make(map[*publisher.OpcSession]struct{}),
		logger:   logger.With("component", "uaclient"),
	}
	registry.OnSessionCreated = m.startSession
	return m
}

// Run starts a loop for every registered session and blocks until the
// context is cancelled and every loop has torn down.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	sessions, err := m.registry.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		m.startSession(s)
	}

	<-ctx.Done()
	m.wg.Wait()
	return nil
}

// startSession launches the connect/monitor loop for one session, once.
func (m *Manager) startSession(s *publisher.OpcSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx == nil {
		// Run has not started yet; the session is registered and will be
		// picked up by the initial listing.
		return
	}
	if _, ok := m.started[s]; ok {
		return
	}
	m.started[s] = struct{}{}

	ctx := m.runCtx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sessionLoop(ctx, s)
	}()
}

// sessionLoop services one session for the process lifetime: it connects
// on demand, reconciles removals and attaches monitoring for new items.
func (m *Manager) sessionLoop(ctx context.Context, s *publisher.OpcSession) {
	logger := m.logger.With("endpoint_url", s.EndpointURL)
	logger.Info("session loop started")

	st := newSessionState(s, logger)
	defer m.teardown(context.Background(), st)

	ticker := time.NewTicker(m.cfg.GetReconnectPeriod())
	defer ticker.Stop()

	s.SignalConnect()
	for {
		select {
		case <-ctx.Done():
			logger.Info("session loop stopping")
			return
		case <-s.Done():
			logger.Info("session loop stopping, session shut down")
			return
		case <-s.ConnectTrigger():
		case <-ticker.C:
		}
		m.service(ctx, st)
	}
}

// service drives the session towards its desired state: connected, pruned
// and fully monitored.
func (m *Manager) service(ctx context.Context, st *sessionState) {
	s := st.session

	// An auth change or deletion flips the session to disconnected while a
	// client is still attached; tear it down before reconnecting.
	if st.client != nil && s.State() == publisher.SessionStateDisconnected {
		m.teardown(ctx, st)
	}

	if st.client == nil {
		if err := s.MarkConnecting(ctx); err != nil {
			st.logger.Debug("session not connectable", "error", err)
			return
		}
		client, appURI, err := dial(ctx, s, m.cfg, m.cipher)
		if err != nil {
			st.logger.Warn("connect attempt failed", "error", err)
			if err := s.MarkDisconnected(ctx); err != nil {
				st.logger.Warn("failed to record disconnect", "error", err)
			}
			return
		}
		resolver, err := newNamespaceResolver(ctx, client)
		if err != nil {
			st.logger.Warn("failed to read namespace table", "error", err)
			_ = client.Close(ctx)
			return
		}
		st.attach(ctx, client, resolver)
		if err := s.MarkConnected(ctx, &connection{client: client}, resolver, appURI); err != nil {
			st.logger.Warn("failed to record connect", "error", err)
			m.teardown(ctx, st)
			return
		}
	}

	removed, err := s.Reconcile(ctx)
	if err != nil {
		st.logger.Warn("reconciliation failed", "error", err)
		return
	}
	st.unmonitor(ctx, removed)

	if err := st.ensureMonitored(ctx); err != nil {
		st.logger.Warn("monitoring pass failed", "error", err)
	}
}

// teardown detaches the wire-level client and resets the session's items to
// unmonitored.
func (m *Manager) teardown(ctx context.Context, st *sessionState) {
	if st.client == nil {
		return
	}
	st.detach(ctx)
	if err := st.session.MarkDisconnected(ctx); err != nil {
		st.logger.Warn("failed to record disconnect", "error", err)
	}
}
