package registry

import (
	"sync"
	"testing"

	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

type recordingPublisher struct {
	mu    sync.Mutex
	count int
}

func (p *recordingPublisher) PublishDiscovery(e *DeviceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
}

func (p *recordingPublisher) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func TestUpsertInfoThenMetadataBecomesEntityReady(t *testing.T) {
	pub := &recordingPublisher{}
	reg := New(pub)

	reg.UpsertInfo(1, 0, protocol.Device{Kind: protocol.DeviceKindNone, ProductID: 7})
	entry := reg.TableFor(1).EntryOrCreate(0)
	if entry.EntityReady() {
		t.Fatal("entry should not be ready with only info merged")
	}
	if pub.publishCount() != 0 {
		t.Fatal("discovery should not publish before entity_ready")
	}

	reg.UpsertMetadata(1, 0, protocol.DeviceMetadata{FunctionName: 656, FunctionInstance: 1})

	if !entry.EntityReady() {
		t.Fatal("entry should be ready once both info and metadata are merged")
	}
	if pub.publishCount() != 1 {
		t.Fatalf("expected exactly one discovery publish, got %d", pub.publishCount())
	}
	if entry.EntityType != EntityBattery {
		t.Fatalf("EntityType = %q, want %q (FunctionName 656 is classified battery)", entry.EntityType, EntityBattery)
	}
	if entry.UniqueID == "" {
		t.Fatal("expected a non-empty unique_id once entity_ready")
	}
}

func TestUpsertMetadataIdempotentDoesNotRepublish(t *testing.T) {
	pub := &recordingPublisher{}
	reg := New(pub)

	reg.UpsertInfo(1, 0, protocol.Device{})
	reg.UpsertMetadata(1, 0, protocol.DeviceMetadata{FunctionName: 656})
	reg.UpsertMetadata(1, 0, protocol.DeviceMetadata{FunctionName: 656, FunctionInstance: 2})

	if pub.publishCount() != 1 {
		t.Fatalf("expected discovery to publish exactly once despite a second metadata merge, got %d", pub.publishCount())
	}
}

type fakeClassifier struct {
	entityType string
	ok         bool
}

func (f fakeClassifier) ClassifyOverride(code uint16, name string) (string, bool) {
	return f.entityType, f.ok
}
func (fakeClassifier) FilterEvent(string) bool { return true }
func (fakeClassifier) Close() error            { return nil }

func TestWithRulesEngineOverridesClassification(t *testing.T) {
	reg := New(nil)
	reg.WithRulesEngine(fakeClassifier{entityType: "custom_type", ok: true})

	reg.UpsertInfo(1, 0, protocol.Device{})
	reg.UpsertMetadata(1, 0, protocol.DeviceMetadata{FunctionName: 656})

	e, ok := reg.EntryByUniqueID(uniqueIDFor(reg, 1, 0))
	if !ok {
		t.Fatal("expected entry to be ready and indexed by unique_id")
	}
	if string(e.EntityType) != "custom_type" {
		t.Fatalf("EntityType = %q, want the scripted override %q", e.EntityType, "custom_type")
	}
}

func uniqueIDFor(reg *Registry, tableID uint32, deviceID int) string {
	e := reg.TableFor(tableID).EntryOrCreate(deviceID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.UniqueID
}

func TestWithRulesEngineNilRestoresNoop(t *testing.T) {
	reg := New(nil)
	reg.WithRulesEngine(nil)
	if reg.rules == nil {
		t.Fatal("WithRulesEngine(nil) should install the noop engine, not leave rules nil")
	}
}

func TestBatteryIsIdempotentAndAddressless(t *testing.T) {
	pub := &recordingPublisher{}
	reg := New(pub)

	b1 := reg.Battery()
	b2 := reg.Battery()
	if b1 != b2 {
		t.Fatal("Battery() should return the same entry on every call")
	}
	if b1.IsAddressBearing() {
		t.Fatal("the synthetic battery entry must never be address-bearing")
	}
	if pub.publishCount() != 1 {
		t.Fatalf("expected exactly one discovery publish for the battery, got %d", pub.publishCount())
	}

	all := reg.AllReadyEntries()
	found := false
	for _, e := range all {
		if e.UniqueID == BatteryUniqueID {
			found = true
		}
	}
	if !found {
		t.Fatal("AllReadyEntries should include the battery entry once touched")
	}
}
