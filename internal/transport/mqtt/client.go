// Package mqtt wraps eclipse/paho.mqtt.golang with the publish/subscribe
// shape the state publisher and command router need: arbitrary topics,
// retained discovery/state messages, a last-will availability topic, and a
// per-topic subscription callback instead of one fixed topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
)

// ErrNotConnected is returned by Publish when the client hasn't completed a
// Connect call. Subscribe does not return it: while disconnected it records
// the handler and returns nil.
var ErrNotConnected = errors.New("mqtt: not connected")

// TLSConfig mirrors the subset of broker TLS options the bridge exposes.
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config holds broker connection settings.
type Config struct {
	Host             string
	Port             int
	SSL              bool
	Username         string
	Password         string
	ClientID         string
	ConnectTimeout   time.Duration
	AvailabilityTopic string
	TLS              *TLSConfig
}

func (c Config) brokerURI() string {
	scheme := "tcp"
	if c.SSL {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Client is a thin wrapper around a single paho.mqtt.golang client,
// publishing with last-will availability semantics.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	log    *logger.Logger
	client paho.Client

	subs map[string]func(topic string, payload []byte)
}

// NewClient constructs a Client that has not yet connected.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Global()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rvlink-bridge"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		subs: make(map[string]func(string, []byte)),
	}
}

func (c *Client) buildTLSConfig() (*tls.Config, error) {
	tc := c.cfg.TLS
	if tc == nil {
		return nil, nil
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: tc.InsecureSkipVerify}

	if tc.CertFile != "" && tc.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if tc.CAFile != "" {
		caCert, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Connect dials the broker, registering a last-will "offline" message on
// the availability topic so Home Assistant marks entities unavailable on
// an unclean disconnect.
func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.brokerURI())
	opts.SetClientID(c.cfg.ClientID)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	if c.cfg.AvailabilityTopic != "" {
		opts.SetWill(c.cfg.AvailabilityTopic, "offline", 1, true)
	}

	if c.cfg.SSL {
		tlsConfig, err := c.buildTLSConfig()
		if err != nil {
			return err
		}
		if tlsConfig != nil {
			opts.SetTLSConfig(tlsConfig)
		}
	}

	opts.SetOnConnectHandler(func(client paho.Client) {
		c.log.Info("mqtt connected", "broker", c.cfg.brokerURI())
		if c.cfg.AvailabilityTopic != "" {
			client.Publish(c.cfg.AvailabilityTopic, 1, true, "online")
		}
		c.resubscribeAll(client)
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		c.log.Warn("mqtt connection lost", "error", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()

	finished := make(chan struct{})
	go func() {
		token.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Client) resubscribeAll(client paho.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, handler := range c.subs {
		h := handler
		client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			h(msg.Topic(), msg.Payload())
		})
	}
}

// IsConnected reports whether the underlying client has an active session.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnected()
}

// Publish sends payload to topic at the given QoS, optionally retained
// (used for HA discovery configs and the last known state of each entity).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retain, payload)
	finished := make(chan struct{})
	go func() {
		token.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for topic (which may include MQTT wildcards)
// and remembers it so reconnects automatically re-subscribe.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects cleanly, publishing "offline" on the availability topic
// rather than relying on the broker to fire the last will.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if c.cfg.AvailabilityTopic != "" && c.client.IsConnected() {
		token := c.client.Publish(c.cfg.AvailabilityTopic, 1, true, "offline")
		token.WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
	return nil
}
