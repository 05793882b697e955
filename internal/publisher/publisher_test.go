package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
)

type recordingMQTT struct {
	mu        sync.Mutex
	publishes []struct{ topic string; payload []byte; retain bool }
}

func (m *recordingMQTT) Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes = append(m.publishes, struct {
		topic   string
		payload []byte
		retain  bool
	}{topic, append([]byte{}, payload...), retain})
	return nil
}

func (m *recordingMQTT) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.publishes)
}

func (m *recordingMQTT) last() (string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.publishes)
	if n == 0 {
		return "", nil
	}
	p := m.publishes[n-1]
	return p.topic, p.payload
}

func TestPublishDiscoveryIncludesCommandTopicForAddressBearing(t *testing.T) {
	mqtt := &recordingMQTT{}
	p := New(mqtt, Topics{Base: "rvlink-bridge/", Discovery: "homeassistant/"}, nil)

	reg := registry.New(p)
	reg.UpsertInfo(1, 0, protocol.Device{Kind: protocol.DeviceKindBasic})
	reg.UpsertMetadata(1, 0, protocol.DeviceMetadata{FunctionName: 656})

	if mqtt.count() != 1 {
		t.Fatalf("expected one discovery publish from registry activation, got %d", mqtt.count())
	}
	topic, payload := mqtt.last()
	if topic == "" {
		t.Fatal("expected a non-empty discovery topic")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("discovery payload is not JSON: %v", err)
	}
	uid, _ := doc["unique_id"].(string)
	if want := "rvlink-bridge/" + uid + "/cmd"; doc["command_topic"] != want {
		t.Fatalf("command_topic = %v, want %q", doc["command_topic"], want)
	}
}

func TestPublishDebouncesUnchangedState(t *testing.T) {
	mqtt := &recordingMQTT{}
	p := New(mqtt, Topics{Base: "rvlink-bridge/", Discovery: "homeassistant/"}, nil)

	e := &registry.DeviceEntry{UniqueID: "switch_1_0", EntityType: registry.EntitySwitch, DisplayName: "Test Switch"}
	e.SetState(protocol.SwitchState(protocol.On))

	p.Publish(e)
	waitForPublish(t, mqtt, 1)

	// Publishing the same state again immediately should be debounced.
	p.Publish(e)
	time.Sleep(20 * time.Millisecond)
	if mqtt.count() != 1 {
		t.Fatalf("expected the second identical Publish to be debounced, got %d total publishes", mqtt.count())
	}

	// A changed state should publish immediately regardless of debounce.
	e.SetState(protocol.SwitchState(protocol.Off))
	p.Publish(e)
	waitForPublish(t, mqtt, 2)
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls int
}

func (b *recordingBroadcaster) Broadcast(uniqueID, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
}

func TestPublishMirrorsToBroadcasterWhenConfigured(t *testing.T) {
	mqtt := &recordingMQTT{}
	p := New(mqtt, Topics{Base: "rvlink-bridge/", Discovery: "homeassistant/"}, nil)
	bc := &recordingBroadcaster{}
	p.WithBroadcaster(bc)

	e := &registry.DeviceEntry{UniqueID: "switch_1_1", EntityType: registry.EntitySwitch}
	e.SetState(protocol.SwitchState(protocol.On))
	p.Publish(e)

	waitForPublish(t, mqtt, 1)
	bc.mu.Lock()
	calls := bc.calls
	bc.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected Broadcast to be called once, got %d", calls)
	}
}

func waitForPublish(t *testing.T, mqtt *recordingMQTT, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if mqtt.count() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d publishes, got %d", want, mqtt.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
