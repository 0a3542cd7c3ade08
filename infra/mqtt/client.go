package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/monitoring"
	coremqtt "github.com/kilianp07/roster/core/mqtt"
	"github.com/kilianp07/roster/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// TopicPrefix roots every topic, "roster" by default.
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	LWTTopic    string          `json:"lwt_topic"`
	LWTPayload  string          `json:"lwt_payload"`
	LWTQoS      byte            `json:"lwt_qos"`
	LWTRetain   bool            `json:"lwt_retain"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	// HandlerTimeoutMS bounds one disruption command.
	HandlerTimeoutMS int         `json:"handler_timeout_ms"`
	TLSConfig        *tls.Config `json:"-"`
}

func (c Config) prefix() string {
	if p := strings.Trim(c.TopicPrefix, "/"); p != "" {
		return p
	}
	return "roster"
}

// pahoClient is the subset of paho.Client used by PahoClient.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes plan events and receives disruption commands over
// MQTT using Eclipse Paho.
type PahoClient struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	handler    coremqtt.DisruptionHandler
	timeout    time.Duration
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. When onDisruption is not nil
// the client subscribes to the disruption topic and hands every decoded
// command to it.
func NewPahoClient(cfg Config, onDisruption coremqtt.DisruptionHandler) (*PahoClient, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	logger := logger.New("mqtt_client")
	pc := &PahoClient{
		prefix:     cfg.prefix(),
		qos:        cfg.QoS,
		handler:    onDisruption,
		timeout:    time.Duration(cfg.HandlerTimeoutMS) * time.Millisecond,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}
	if pc.timeout <= 0 {
		pc.timeout = time.Minute
	}

	opts.OnConnect = func(c paho.Client) {
		logger.Infof("MQTT connected")
		if pc.handler == nil {
			return
		}
		if token := c.Subscribe(pc.DisruptionTopic(), pc.qosFor("disruptions"), pc.onDisruption); token.Wait() && token.Error() != nil {
			logger.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

// EventTopic is the topic carrying every event of a plan.
func (p *PahoClient) EventTopic(planID string) string {
	return fmt.Sprintf("%s/plans/%s/events", p.prefix, planID)
}

// StatusTopic holds the retained latest status of a plan.
func (p *PahoClient) StatusTopic(planID string) string {
	return fmt.Sprintf("%s/plans/%s/status", p.prefix, planID)
}

// DisruptionTopic receives disruption commands.
func (p *PahoClient) DisruptionTopic() string { return p.prefix + "/disruptions" }

// PublishEvent publishes ev on the plan's event topic. Status events are
// also retained on the status topic so late subscribers see the current
// state.
func (p *PahoClient) PublishEvent(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.publish(p.EventTopic(ev.PlanID), p.qosFor("events"), false, payload); err != nil {
		return err
	}
	if ev.Kind == events.KindStatus {
		return p.publish(p.StatusTopic(ev.PlanID), p.qosFor("status"), true, payload)
	}
	return nil
}

// publish retries with exponential backoff.
func (p *PahoClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	return publishErr
}

func (p *PahoClient) onDisruption(_ paho.Client, msg paho.Message) {
	defer monitoring.Recover("mqtt_disruption")
	cmd, err := decodeCommand(msg.Payload())
	if err != nil {
		p.logger.Errorf("dropping disruption command: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.handler(ctx, cmd); err != nil {
		if model.CodeOf(err) == "" {
			monitoring.CaptureException(err, map[string]string{"component": "mqtt_disruption", "plan_id": cmd.PlanID})
		}
		p.logger.Warnf("disruption %s on plan %s failed: %v", cmd.Disruption.Type, cmd.PlanID, err)
		return
	}
	p.logger.Infof("disruption %s on plan %s handled", cmd.Disruption.Type, cmd.PlanID)
}

func decodeCommand(b []byte) (coremqtt.DisruptionCommand, error) {
	var cmd coremqtt.DisruptionCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", coremqtt.ErrInvalidCommand, err)
	}
	if cmd.PlanID == "" {
		return cmd, fmt.Errorf("%w: plan_id is required", coremqtt.ErrInvalidCommand)
	}
	return cmd, nil
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
