package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

const publishTimeout = 5 * time.Second

// Client carries acsd results and events to MQTT and acts as the transport
// for an external channel-selection application.
type Client struct {
	client MQTT.Client
	pub    publisher
	logger *logx.Logger
	config *Config

	mu          sync.RWMutex
	connected   bool
	lastPublish time.Time
	onReply     ReplyHandler
}

// publisher is the subset of MQTT.Client used for sending
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "acsd",
		TopicPrefix: "acsd",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// ReplyHandler receives a channel decision from the external application
type ReplyHandler func(jobID string, freq uint32) error

// Reply is the payload the external application publishes. Either Freq or
// Channel must be set; Channel is resolved in 2.4/5 GHz.
type Reply struct {
	JobID   string `json:"job_id"`
	Freq    uint32 `json:"freq,omitempty"`
	Channel int    `json:"channel,omitempty"`
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logx.NewLogger("info", "mqtt")
	}
	return &Client{
		logger: logger,
		config: config,
	}
}

// SetReplyHandler installs the handler for external selector replies. It
// must be set before Connect.
func (c *Client) SetReplyHandler(h ReplyHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReply = h
}

// Topic names
func (c *Client) RequestTopic() string { return c.config.TopicPrefix + "/acs/request" }
func (c *Client) ReplyTopic() string   { return c.config.TopicPrefix + "/acs/reply" }
func (c *Client) EventTopic() string   { return c.config.TopicPrefix + "/events" }
func (c *Client) ResultTopic(iface string) string {
	return fmt.Sprintf("%s/result/%s", c.config.TopicPrefix, iface)
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)
	c.pub = c.client

	if token := c.client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() {
	if c.client != nil && c.IsConnected() {
		c.client.Disconnect(250)
		c.setConnected(false)
		c.logger.Info("MQTT client disconnected")
	}
}

// onConnect subscribes to the reply topic; it runs again after every
// reconnect so the subscription survives broker restarts.
func (c *Client) onConnect(client MQTT.Client) {
	c.setConnected(true)
	c.logger.Info("MQTT connection established")

	token := client.Subscribe(c.ReplyTopic(), byte(c.config.QoS), func(_ MQTT.Client, msg MQTT.Message) {
		c.handleReply(msg.Payload())
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		c.logger.Error("MQTT subscribe failed", "topic", c.ReplyTopic(), "error", token.Error())
		return
	}
	c.logger.Info("MQTT subscription created", "topic", c.ReplyTopic())
}

// onConnectionLost handles MQTT disconnection events
func (c *Client) onConnectionLost(_ MQTT.Client, err error) {
	c.setConnected(false)
	c.logger.Error("MQTT connection lost", "error", err)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// handleReply decodes an external selector answer and hands it on
func (c *Client) handleReply(payload []byte) {
	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		c.logger.Warn("Ignoring malformed ACS reply", "error", err, "payload", string(payload))
		return
	}

	freq := reply.Freq
	if freq == 0 && reply.Channel > 0 {
		freq = wifi.ChannelToFreqAny(reply.Channel)
	}
	if reply.JobID == "" || freq == 0 {
		c.logger.Warn("Ignoring incomplete ACS reply", "job_id", reply.JobID, "freq", reply.Freq, "channel", reply.Channel)
		return
	}

	c.mu.RLock()
	h := c.onReply
	c.mu.RUnlock()
	if h == nil {
		c.logger.Warn("ACS reply received without a handler", "job_id", reply.JobID)
		return
	}

	if err := h(reply.JobID, freq); err != nil {
		c.logger.Warn("ACS reply rejected", "job_id", reply.JobID, "freq", freq, "error", err)
		return
	}
	c.logger.Debug("ACS reply accepted", "job_id", reply.JobID, "freq", freq)
}

// NotifyACS publishes a selection job for the external application
func (c *Client) NotifyACS(ctx context.Context, job *acs.Job) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload := map[string]interface{}{
		"timestamp":   time.Now(),
		"reply_topic": c.ReplyTopic(),
		"job":         job,
	}
	return c.publishJSON(ctx, c.RequestTopic(), payload, false)
}

// Deliver publishes a completed selection on the result topic of its
// interface
func (c *Client) Deliver(res *acs.Result) {
	if !c.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.publishJSON(ctx, c.ResultTopic(res.Iface), res, c.config.Retain); err != nil {
		c.logger.Error("Failed to publish ACS result", "iface", res.Iface, "error", err)
	}
}

// PublishEvent publishes an event such as radar or interface removal
func (c *Client) PublishEvent(ctx context.Context, kind, iface string, fields map[string]interface{}) error {
	if !c.IsConnected() {
		return nil
	}
	payload := map[string]interface{}{
		"timestamp": time.Now(),
		"event":     kind,
		"iface":     iface,
	}
	for k, v := range fields {
		payload[k] = v
	}
	return c.publishJSON(ctx, c.EventTopic(), payload, false)
}

// publishJSON publishes JSON payload to MQTT topic
func (c *Client) publishJSON(ctx context.Context, topic string, payload interface{}, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.pub.Publish(topic, byte(c.config.QoS), retain, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.pub != nil
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublish
}
