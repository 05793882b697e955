// Package publisher implements the bridge's state publisher: it debounces
// DeviceEntry state changes into retained MQTT messages and periodically
// re-announces Home Assistant discovery documents for every entity_ready
// entry.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/metrics"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
)

// Debounce is the minimum time between re-publishes of an unchanged state.
const Debounce = 20 * time.Second

// RediscoveryInterval is the cadence of the background re-announce ticker.
const RediscoveryInterval = 30 * time.Second

// QoS levels accepted by MQTTPublisher.Publish, mirroring the broker's
// at-least-once delivery contract.
const (
	QoSAtMostOnce  = 0
	QoSAtLeastOnce = 1
)

// MQTTPublisher is the narrow interface the publisher needs from the MQTT
// transport.
type MQTTPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error
}

// Topics computes the three well-known per-device topics from a base topic
// and unique_id.
type Topics struct {
	Base      string
	Discovery string
}

func (t Topics) stateTopic(uniqueID string) string { return t.Base + uniqueID + "/stat" }
func (t Topics) attrTopic(uniqueID string) string  { return t.Base + uniqueID + "/attr" }
func (t Topics) cmdTopic(uniqueID string) string   { return t.Base + uniqueID + "/cmd" }
func (t Topics) discoveryTopic(hassType, uniqueID string) string {
	return t.Discovery + hassType + "/rvlink-bridge/" + uniqueID + "/config"
}

// EventBroadcaster is the optional diagnostics WebSocket hook (*ws.Server
// satisfies it); nil when the diagnostics API is disabled.
type EventBroadcaster interface {
	Broadcast(uniqueID, state string)
}

// Publisher implements registry.DiscoveryPublisher and drives the per-
// entry state publish and rediscovery ticker. It receives its entries
// either via PublishDiscovery (called by the registry the moment an entry
// becomes entity_ready) or via Publish (called by the supervisor's event
// dispatcher whenever a device state changes).
type Publisher struct {
	mqtt   MQTTPublisher
	topics Topics
	log    *logger.Logger
	ws     EventBroadcaster
}

// New constructs a Publisher. It is constructed before the Registry and
// handed to registry.New as its DiscoveryPublisher, so there is never a
// cycle.
func New(mqtt MQTTPublisher, topics Topics, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global()
	}
	return &Publisher{mqtt: mqtt, topics: topics, log: log}
}

// WithBroadcaster installs the optional diagnostics WebSocket mirror.
func (p *Publisher) WithBroadcaster(ws EventBroadcaster) {
	p.ws = ws
}

// discoveryDoc is the subset of Home Assistant's MQTT discovery schema
// this bridge emits.
type discoveryDoc struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
	JSONAttrTopic     string `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	DeviceClass       string `json:"device_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	Device            struct {
		Identifiers []string `json:"identifiers"`
		Name        string   `json:"name"`
		Manufacturer string  `json:"manufacturer"`
	} `json:"device"`
}

// PublishDiscovery implements registry.DiscoveryPublisher, emitting a
// retained Home Assistant discovery document the moment an entry becomes
// entity_ready, or when the battery is first touched.
func (p *Publisher) PublishDiscovery(e *registry.DeviceEntry) {
	hassType := string(e.EntityType.HassComponent())

	doc := discoveryDoc{
		Name:              e.DisplayName,
		UniqueID:          e.UniqueID,
		StateTopic:        p.topics.stateTopic(e.UniqueID),
		JSONAttrTopic:     p.topics.attrTopic(e.UniqueID),
		AvailabilityTopic: p.topics.Base + "avty",
	}
	doc.Device.Identifiers = []string{"rvlink-bridge"}
	doc.Device.Name = "RVLink Gateway"
	doc.Device.Manufacturer = "RVLink Bridge"

	if e.IsAddressBearing() {
		doc.CommandTopic = p.topics.cmdTopic(e.UniqueID)
		if hassType == "switch" || hassType == "light" {
			doc.PayloadOn = "on"
			doc.PayloadOff = "off"
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		p.log.Error("discovery marshal failed", "unique_id", e.UniqueID, "error", err)
		return
	}

	topic := p.topics.discoveryTopic(hassType, e.UniqueID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.mqtt.Publish(ctx, topic, body, true, QoSAtLeastOnce); err != nil {
		p.log.Warn("discovery publish failed", "unique_id", e.UniqueID, "error", err)
	}
}

// Publish checks the debounce rule and, if due, atomically commits the
// publish decision before spawning the actual MQTT write on its own
// goroutine so a stuck broker never blocks the caller (typically the
// supervisor's event dispatch loop).
func (p *Publisher) Publish(e *registry.DeviceEntry) {
	state, due := e.ShouldPublish(time.Now(), Debounce)
	if !due {
		return
	}
	topic := p.topics.stateTopic(e.UniqueID)
	payload := []byte(state.String())
	metrics.StatePublishes.Inc()
	if p.ws != nil {
		p.ws.Broadcast(e.UniqueID, state.String())
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.mqtt.Publish(ctx, topic, payload, true, QoSAtLeastOnce); err != nil {
			p.log.Warn("state publish failed", "unique_id", e.UniqueID, "error", err)
		}
	}()
}

// EntryLister is implemented by *registry.Registry; kept as an interface so
// the rediscovery ticker doesn't need to import the concrete type's full
// surface.
type EntryLister interface {
	AllReadyEntries() []*registry.DeviceEntry
}

// RunRediscovery re-announces discovery documents for every entity_ready
// entry every RediscoveryInterval, until ctx is cancelled.
func (p *Publisher) RunRediscovery(ctx context.Context, entries EntryLister) {
	ticker := time.NewTicker(RediscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range entries.AllReadyEntries() {
				p.PublishDiscovery(e)
			}
		}
	}
}
