package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/opcbridge/opcbridge/internal/config"
)

// IoT-hub style topic layout. Method requests arrive on the POST topic with
// a request id in the property bag; responses go to the res topic carrying
// the status and the same request id.
const (
	methodRequestFilter  = "$iothub/methods/POST/#"
	methodResponseTopic  = "$iothub/methods/res/%d/?$rid=%s"
	reportedPatchTopic   = "$iothub/twin/PATCH/properties/reported/?$rid=%d"
	telemetryTopicFormat = "devices/%s/messages/events/%%24.ct=application%%2Fjson&%%24.ce=utf-8&iothub-message-schema=%s"
)

// MQTTClient is the hub client over MQTT v5 with automatic reconnection.
type MQTTClient struct {
	cfg    config.HubConfig
	cm     *autopaho.ConnectionManager
	router *paho.StandardRouter
	qos    byte

	mu       sync.RWMutex
	methods  map[string]MethodHandler
	fallback MethodHandler
	connCb   func(bool)

	rid atomic.Uint64

	logger *slog.Logger
}

// NewMQTTClient builds an unconnected hub client.
func NewMQTTClient(cfg config.HubConfig, logger *slog.Logger) *MQTTClient {
	return &MQTTClient{
		cfg:     cfg,
		router:  paho.NewStandardRouter(),
		qos:     byte(cfg.QoS),
		methods: make(map[string]MethodHandler),
		logger:  logger.With("component", "hub_client"),
	}
}

// Connect establishes the MQTT session. It returns once the first
// connection is up; the connection manager reconnects on its own
// afterwards.
func (c *MQTTClient) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url %q: %w", c.cfg.BrokerURL, err)
	}

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = "opcbridge-" + c.cfg.DeviceID
	}

	c.router.RegisterHandler(methodRequestFilter, c.handleMethodRequest)

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:        []*url.URL{brokerURL},
		KeepAlive:         c.cfg.GetKeepAlive(),
		ConnectRetryDelay: c.cfg.GetConnectRetryDelay(),
		ConnectTimeout:    c.cfg.GetConnectTimeout(),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			c.logger.Info("hub connection up")
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: map[string]paho.SubscribeOptions{
					methodRequestFilter: {QoS: c.qos},
				},
			}); err != nil {
				c.logger.Error("failed to subscribe to method requests", "error", err)
			}
			c.notifyConnection(true)
		},
		OnConnectError: func(err error) {
			c.logger.Error("hub connection attempt failed", "error", err)
			c.notifyConnection(false)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			Router:   c.router,
			OnClientError: func(err error) {
				c.logger.Error("hub client error", "error", err)
				c.notifyConnection(false)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					c.logger.Warn("hub requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					c.logger.Warn("hub requested disconnect", "reason_code", d.ReasonCode)
				}
				c.notifyConnection(false)
			},
		},
	}

	if c.cfg.Username != "" {
		cliCfg.SetUsernamePassword(c.cfg.Username, []byte(c.cfg.Password))
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("failed to start hub connection: %w", err)
	}
	c.cm = cm

	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("hub connection not established: %w", err)
	}
	return nil
}

// Disconnect closes the MQTT session.
func (c *MQTTClient) Disconnect(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	return c.cm.Disconnect(ctx)
}

// SendMessage publishes one telemetry payload tagged with its message
// schema.
func (c *MQTTClient) SendMessage(ctx context.Context, payload []byte, schema string) error {
	if c.cm == nil {
		return fmt.Errorf("hub client not connected")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		QoS:   c.qos,
		Topic: fmt.Sprintf(telemetryTopicFormat, c.cfg.DeviceID, schema),
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
			User: paho.UserProperties{
				{Key: "iothub-message-schema", Value: schema},
				{Key: "iothub-content-encoding", Value: "utf-8"},
			},
		},
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("hub publish failed: %w", err)
	}
	return nil
}

// UpdateReportedProperties publishes a reported-property patch.
func (c *MQTTClient) UpdateReportedProperties(ctx context.Context, properties map[string]any) error {
	if c.cm == nil {
		return fmt.Errorf("hub client not connected")
	}
	payload, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to encode reported properties: %w", err)
	}
	_, err = c.cm.Publish(ctx, &paho.Publish{
		QoS:     c.qos,
		Topic:   fmt.Sprintf(reportedPatchTopic, c.rid.Add(1)),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("reported properties publish failed: %w", err)
	}
	return nil
}

// RegisterMethod registers the handler for one direct method name.
func (c *MQTTClient) RegisterMethod(name string, handler MethodHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = handler
}

// RegisterDefaultHandler registers the handler invoked for unknown method
// names.
func (c *MQTTClient) RegisterDefaultHandler(handler MethodHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = handler
}

// SetConnectionStatusCallback registers the connection-status observer.
func (c *MQTTClient) SetConnectionStatusCallback(cb func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connCb = cb
}

func (c *MQTTClient) notifyConnection(connected bool) {
	c.mu.RLock()
	cb := c.connCb
	c.mu.RUnlock()
	if cb != nil {
		cb(connected)
	}
}

// handleMethodRequest dispatches one inbound direct method call and
// publishes its response. Runs on the MQTT router's goroutine; the handler
// itself runs detached so a slow mutation never stalls inbound traffic.
func (c *MQTTClient) handleMethodRequest(p *paho.Publish) {
	name, rid, err := parseMethodTopic(p.Topic)
	if err != nil {
		c.logger.Error("malformed method request topic", "topic", p.Topic, "error", err)
		return
	}

	c.mu.RLock()
	handler, known := c.methods[name]
	if !known {
		handler = c.fallback
	}
	c.mu.RUnlock()

	if handler == nil {
		c.logger.Warn("no handler for method", "method", name)
		return
	}

	payload := p.Payload
	go func() {
		status, body := handler(context.Background(), payload)
		c.logger.Info("method handled", "method", name, "status", status, "response_bytes", len(body))
		if rid == "" {
			return
		}
		_, err := c.cm.Publish(context.Background(), &paho.Publish{
			QoS:   c.qos,
			Topic: fmt.Sprintf(methodResponseTopic, status, rid),
			Properties: &paho.PublishProperties{
				ContentType: "application/json",
			},
			Payload: body,
		})
		if err != nil {
			c.logger.Error("failed to publish method response", "method", name, "error", err)
		}
	}()
}

// parseMethodTopic extracts the method name and request id from a
// "$iothub/methods/POST/{name}/?$rid={rid}" topic.
func parseMethodTopic(topic string) (name, rid string, err error) {
	const prefix = "$iothub/methods/POST/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", fmt.Errorf("unexpected topic prefix")
	}
	rest := strings.TrimPrefix(topic, prefix)
	name, query, _ := strings.Cut(rest, "/")
	if name == "" {
		return "", "", fmt.Errorf("missing method name")
	}
	query = strings.TrimPrefix(query, "?")
	for _, kv := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(kv, "$rid="); ok {
			rid = v
		}
	}
	return name, rid, nil
}
