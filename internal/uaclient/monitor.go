package uaclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/opcbridge/opcbridge/internal/publisher"
)

// wireSub pairs a graph-level subscription with its wire-level counterpart
// and notification channel.
type wireSub struct {
	sub      *opcua.Subscription
	notifyCh chan *opcua.PublishNotificationData
	cancel   context.CancelFunc
}

// sessionState is the per-session wire bookkeeping: the live client, the
// wire subscriptions, and the client-handle table routing notifications
// back to their monitored items.
type sessionState struct {
	session  *publisher.OpcSession
	client   *opcua.Client
	resolver *namespaceResolver

	wireSubs map[*publisher.OpcSubscription]*wireSub

	handleMu    sync.RWMutex
	handles     map[uint32]*publisher.OpcMonitoredItem
	serverItems map[*publisher.OpcMonitoredItem]monitoredRef
	nextHandle  atomic.Uint32

	pumpWG sync.WaitGroup

	logger *slog.Logger
}

// monitoredRef remembers where an item lives on the wire so it can be
// detached on removal.
type monitoredRef struct {
	wire   *wireSub
	itemID uint32
	handle uint32
}

func newSessionState(session *publisher.OpcSession, logger *slog.Logger) *sessionState {
	return &sessionState{
		session:     session,
		wireSubs:    make(map[*publisher.OpcSubscription]*wireSub),
		handles:     make(map[uint32]*publisher.OpcMonitoredItem),
		serverItems: make(map[*publisher.OpcMonitoredItem]monitoredRef),
		logger:      logger,
	}
}

// attach installs a freshly connected client.
func (st *sessionState) attach(ctx context.Context, client *opcua.Client, resolver *namespaceResolver) {
	st.client = client
	st.resolver = resolver
}

// detach closes the client, stops all pumps and forgets all wire state.
func (st *sessionState) detach(ctx context.Context) {
	for _, ws := range st.wireSubs {
		ws.cancel()
	}
	st.pumpWG.Wait()

	if st.client != nil {
		if err := st.client.Close(ctx); err != nil {
			st.logger.Debug("client close failed", "error", err)
		}
		st.client = nil
	}
	st.resolver = nil
	st.wireSubs = make(map[*publisher.OpcSubscription]*wireSub)

	st.handleMu.Lock()
	st.handles = make(map[uint32]*publisher.OpcMonitoredItem)
	st.serverItems = make(map[*publisher.OpcMonitoredItem]monitoredRef)
	st.handleMu.Unlock()
}

// unmonitor detaches removed items from their wire subscriptions.
func (st *sessionState) unmonitor(ctx context.Context, removed []*publisher.OpcMonitoredItem) {
	for _, mi := range removed {
		st.handleMu.Lock()
		ref, ok := st.serverItems[mi]
		if ok {
			delete(st.serverItems, mi)
			delete(st.handles, ref.handle)
		}
		st.handleMu.Unlock()
		if !ok {
			continue
		}
		if _, err := ref.wire.sub.Unmonitor(ctx, ref.itemID); err != nil {
			st.logger.Warn("failed to unmonitor item", "node_id", mi.ID, "error", err)
		}
	}
}

// ensureMonitored walks the session graph under the session lock and
// creates wire subscriptions and monitored items for everything not yet
// monitored.
func (st *sessionState) ensureMonitored(ctx context.Context) error {
	if st.client == nil {
		return nil
	}
	if err := st.session.Lock().Acquire(ctx); err != nil {
		return err
	}
	defer st.session.Lock().Release()

	for _, sub := range st.session.OpcSubscriptions {
		if err := st.ensureSubscription(ctx, sub, false); err != nil {
			return err
		}
	}
	for _, sub := range st.session.OpcEventSubscriptions {
		if err := st.ensureSubscription(ctx, sub, true); err != nil {
			return err
		}
	}
	return nil
}

func (st *sessionState) ensureSubscription(ctx context.Context, sub *publisher.OpcSubscription, isEvent bool) error {
	ws, ok := st.wireSubs[sub]
	if !ok {
		notifyCh := make(chan *opcua.PublishNotificationData, 64)
		wireSubscription, err := st.client.Subscribe(ctx, &opcua.SubscriptionParameters{
			Interval: time.Duration(sub.RequestedPublishingInterval) * time.Millisecond,
		}, notifyCh)
		if err != nil {
			return err
		}
		sub.PublishingInterval = int(wireSubscription.RevisedPublishingInterval / time.Millisecond)

		pumpCtx, cancel := context.WithCancel(context.Background())
		ws = &wireSub{sub: wireSubscription, notifyCh: notifyCh, cancel: cancel}
		st.wireSubs[sub] = ws

		st.pumpWG.Add(1)
		go func() {
			defer st.pumpWG.Done()
			st.pump(pumpCtx, ws)
		}()
	}

	var requests []*ua.MonitoredItemCreateRequest
	var pendingItems []*publisher.OpcMonitoredItem
	for _, mi := range sub.OpcMonitoredItems {
		if mi.State != publisher.ItemStateUnmonitored &&
			mi.State != publisher.ItemStateUnmonitoredNamespaceUpdateRequested {
			continue
		}
		req, err := st.buildCreateRequest(mi, isEvent)
		if err != nil {
			st.logger.Error("cannot monitor node", "node_id", mi.ID, "error", err)
			continue
		}
		requests = append(requests, req)
		pendingItems = append(pendingItems, mi)
	}
	if len(requests) == 0 {
		return nil
	}

	res, err := ws.sub.Monitor(ctx, ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		return err
	}
	for i, result := range res.Results {
		mi := pendingItems[i]
		handle := requests[i].RequestedParameters.ClientHandle
		if result.StatusCode != ua.StatusOK {
			st.logger.Error("monitored item rejected",
				"node_id", mi.ID,
				"status", result.StatusCode.Error(),
			)
			st.handleMu.Lock()
			delete(st.handles, handle)
			st.handleMu.Unlock()
			continue
		}
		mi.SetMonitored(int(result.RevisedSamplingInterval))
		st.handleMu.Lock()
		st.serverItems[mi] = monitoredRef{wire: ws, itemID: result.MonitoredItemID, handle: handle}
		st.handleMu.Unlock()
		st.logger.Info("item monitored",
			"node_id", mi.ID,
			"sampling_interval_ms", mi.SamplingInterval,
		)
	}
	return nil
}

// buildCreateRequest translates one monitored item into its wire create
// request and registers its client handle.
func (st *sessionState) buildCreateRequest(mi *publisher.OpcMonitoredItem, isEvent bool) (*ua.MonitoredItemCreateRequest, error) {
	wireID, err := st.resolver.toWireID(mi.ID)
	if err != nil {
		return nil, err
	}
	nodeID, err := ua.ParseNodeID(wireID)
	if err != nil {
		return nil, err
	}

	handle := st.nextHandle.Add(1)
	st.handleMu.Lock()
	st.handles[handle] = mi
	st.handleMu.Unlock()
	mi.ClientHandle = handle

	params := &ua.MonitoringParameters{
		ClientHandle:     handle,
		DiscardOldest:    mi.DiscardOldest,
		QueueSize:        mi.QueueSize,
		SamplingInterval: float64(mi.RequestedSamplingInterval),
	}
	attribute := ua.AttributeIDValue

	if isEvent {
		filter, err := buildEventFilter(mi.EventConfiguration, st.resolver)
		if err != nil {
			return nil, err
		}
		params.Filter = extensionObject(id.EventFilter_Encoding_DefaultBinary, filter)
		params.SamplingInterval = 0
		params.QueueSize = 0
		attribute = ua.AttributeIDEventNotifier
	}

	return &ua.MonitoredItemCreateRequest{
		ItemToMonitor: &ua.ReadValueID{
			NodeID:       nodeID,
			AttributeID:  attribute,
			DataEncoding: &ua.QualifiedName{},
		},
		MonitoringMode:      ua.MonitoringModeReporting,
		RequestedParameters: params,
	}, nil
}

// pump forwards wire notifications into the normalization pipeline. Runs
// until the subscription's context is cancelled.
func (st *sessionState) pump(ctx context.Context, ws *wireSub) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-ws.notifyCh:
			if !ok {
				return
			}
			if notif.Error != nil {
				st.logger.Debug("notification error", "error", notif.Error)
				continue
			}
			switch payload := notif.Value.(type) {
			case *ua.DataChangeNotification:
				st.handleDataChange(payload)
			case *ua.EventNotificationList:
				st.handleEvents(payload)
			default:
			}
		}
	}
}

func (st *sessionState) handleDataChange(notif *ua.DataChangeNotification) {
	for _, item := range notif.MonitoredItems {
		st.handleMu.RLock()
		mi := st.handles[item.ClientHandle]
		st.handleMu.RUnlock()
		if mi == nil || item.Value == nil {
			continue
		}

		dv := publisher.DataValue{
			StatusCode:      uint32(item.Value.Status),
			SourceTimestamp: item.Value.SourceTimestamp,
			ServerTimestamp: item.Value.ServerTimestamp,
		}
		if item.Value.Value != nil {
			dv.Value = item.Value.Value.Value()
		}
		mi.HandleDataChange(dv)
	}
}

func (st *sessionState) handleEvents(notif *ua.EventNotificationList) {
	now := time.Now()
	for _, event := range notif.Events {
		st.handleMu.RLock()
		mi := st.handles[event.ClientHandle]
		st.handleMu.RUnlock()
		if mi == nil || mi.EventConfiguration == nil {
			continue
		}

		clauses := mi.EventConfiguration.SelectClauses
		fields := make([]publisher.EventFieldValue, 0, len(event.EventFields))
		for i, variant := range event.EventFields {
			if i >= len(clauses) {
				break
			}
			clause := &clauses[i]
			field := publisher.EventFieldValue{
				Name: clause.FieldName(),
			}
			if clause.IotCentralEventPublishMode != nil {
				field.PublishMode = *clause.IotCentralEventPublishMode
			}
			if variant != nil {
				field.Value = variant.Value()
			}
			fields = append(fields, field)
		}
		mi.HandleEvent(now, fields)
	}
}
