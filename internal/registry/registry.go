// Package registry holds the device-table state machine: a concurrent map
// of tables keyed by device_table_id, each holding per-device entries that
// become entity_ready once both an info record and a metadata record have
// been merged in.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/metrics"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
	"github.com/proctorlabs/rvlink-bridge/internal/rules"
)

// DiscoveryPublisher is notified the moment an entry transitions to
// entity_ready, so its Home Assistant discovery document can be published.
type DiscoveryPublisher interface {
	PublishDiscovery(entry *DeviceEntry)
}

// DeviceEntry is one row of a device table: the union of the Device and
// DeviceMetadata records sharing the same (table_id, device_id).
type DeviceEntry struct {
	mu sync.RWMutex

	TableID  uint32
	DeviceID int

	info     *protocol.Device
	metadata *protocol.DeviceMetadata

	UniqueID    string
	EntityType  EntityType
	DisplayName string

	state           protocol.DeviceState
	lastPublished   protocol.DeviceState
	lastPublishedAt time.Time
}

// State returns the entry's current DeviceState.
func (e *DeviceEntry) State() protocol.DeviceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SetState applies a new DeviceState. Last writer wins: two events
// touching the same (table, device) may be applied in either arrival
// order, but whichever is applied last is what sticks.
func (e *DeviceEntry) SetState(s protocol.DeviceState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// ShouldPublish implements the debounce rule: publish iff the state
// changed, or at least 20s have elapsed since the last publish. On true it
// atomically records the publish decision (state, now) before returning,
// so a concurrent caller never double-publishes the same transition —
// the compare-and-set happens before the publish is spawned, not after.
func (e *DeviceEntry) ShouldPublish(now time.Time, debounce time.Duration) (protocol.DeviceState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := !e.state.Equal(e.lastPublished)
	stale := now.Sub(e.lastPublishedAt) > debounce
	if !changed && !stale {
		return e.state, false
	}
	e.lastPublished = e.state
	e.lastPublishedAt = now
	return e.state, true
}

// LastPublished returns the most recently published state and its
// timestamp without making a fresh publish decision.
func (e *DeviceEntry) LastPublished() (protocol.DeviceState, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPublished, e.lastPublishedAt
}

// EntityReady reports whether both the info and metadata halves have been
// observed.
func (e *DeviceEntry) EntityReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info != nil && e.metadata != nil
}

// Info returns the last-merged device info record, if any.
func (e *DeviceEntry) Info() (protocol.Device, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.info == nil {
		return protocol.Device{}, false
	}
	return *e.info, true
}

// Metadata returns the last-merged metadata record, if any.
func (e *DeviceEntry) Metadata() (protocol.DeviceMetadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metadata == nil {
		return protocol.DeviceMetadata{}, false
	}
	return *e.metadata, true
}

// IsAddressBearing reports whether this entry corresponds to a physical CAN
// device (as opposed to a synthetic battery/system entry), which is what
// the command router needs to decide whether "on"/"off"/etc. apply.
func (e *DeviceEntry) IsAddressBearing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info != nil && e.info.Kind != protocol.DeviceKindNone
}

func (e *DeviceEntry) mergeInfo(d protocol.Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = &d
}

func (e *DeviceEntry) mergeMetadata(m protocol.DeviceMetadata, engine rules.Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metadata = &m
	e.DisplayName = DisplayName(m.FunctionName, uint8(m.FunctionInstance))
	if override, ok := engine.ClassifyOverride(m.FunctionName, e.DisplayName); ok {
		e.EntityType = EntityType(override)
		return
	}
	e.EntityType = ClassifyFunctionName(m.FunctionName, e.DisplayName)
}

// Table is one device_table_id's worth of entries plus the sync bookkeeping
// driven off GatewayInformation's CRC fields.
type Table struct {
	ID uint32

	mu      sync.RWMutex
	entries map[int]*DeviceEntry

	DeviceTableCRC    uint32
	DeviceMetadataCRC uint32
	lastDeviceCount   uint8
	deviceTableStale  atomic.Bool
	metadataStale     atomic.Bool
}

func newTable(id uint32) *Table {
	t := &Table{ID: id, entries: make(map[int]*DeviceEntry)}
	t.deviceTableStale.Store(true)
	t.metadataStale.Store(true)
	return t
}

// EntryOrCreate returns the entry at id, creating an empty one (not yet
// entity_ready) if it doesn't exist. Used both by the info/metadata
// upsert paths and by event handlers that observe a device's state before
// its info/metadata records ever arrive.
func (t *Table) EntryOrCreate(id int) *DeviceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &DeviceEntry{TableID: t.ID, DeviceID: id}
		t.entries[id] = e
	}
	return e
}

// Entries returns a snapshot slice of all entries currently in the table.
func (t *Table) Entries() []*DeviceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*DeviceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Registry is the top-level concurrent map of device tables plus the
// unique_id index the command router consults.
type Registry struct {
	mu     sync.RWMutex
	tables map[uint32]*Table

	byUniqueID sync.Map // string -> *DeviceEntry

	publisher DiscoveryPublisher
	rules     rules.Engine

	readyCount atomic.Int64

	batteryOnce sync.Once
	battery     *DeviceEntry
}

// New constructs an empty Registry. publisher may be nil in tests that
// don't care about discovery side effects. The classification engine
// defaults to rules.Noop; use WithRulesEngine to install an operator
// script.
func New(publisher DiscoveryPublisher) *Registry {
	return &Registry{
		tables:    make(map[uint32]*Table),
		publisher: publisher,
		rules:     rules.Noop,
	}
}

// WithRulesEngine installs the scripted classify_entity override hook.
// Passing nil restores the no-op engine.
func (r *Registry) WithRulesEngine(engine rules.Engine) {
	if engine == nil {
		engine = rules.Noop
	}
	r.rules = engine
}

// Battery returns the distinguished system-sourced entry: not bound to any
// CAN table, unique_id fixed to BatteryUniqueID. It is created lazily the
// first time anything (typically an RvStatus event) touches it, and
// published to discovery on that first touch.
func (r *Registry) Battery() *DeviceEntry {
	r.batteryOnce.Do(func() {
		e := &DeviceEntry{
			TableID:     0,
			DeviceID:    -1,
			UniqueID:    BatteryUniqueID,
			EntityType:  EntityBattery,
			DisplayName: "Battery",
		}
		// info/metadata stay nil: IsAddressBearing() correctly reports
		// false (the battery never takes on/off/movement commands), but
		// EntityReady() would too; the battery bypasses that gate
		// entirely since it's published explicitly below rather than via
		// maybeActivate.
		r.battery = e
		r.byUniqueID.Store(e.UniqueID, e)
		metrics.DevicesReady.Set(float64(r.readyCount.Add(1)))
		if r.publisher != nil {
			r.publisher.PublishDiscovery(e)
		}
	})
	return r.battery
}

// TableFor returns the table for id, creating it (with both CRCs marked
// stale) if it doesn't exist yet.
func (r *Registry) TableFor(id uint32) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	if !ok {
		t = newTable(id)
		r.tables[id] = t
	}
	return t
}

// EntryByUniqueID looks up an entry by its MQTT unique_id, used by the
// command router to map an inbound command topic back to (table, device).
func (r *Registry) EntryByUniqueID(uniqueID string) (*DeviceEntry, bool) {
	v, ok := r.byUniqueID.Load(uniqueID)
	if !ok {
		return nil, false
	}
	return v.(*DeviceEntry), true
}

// UpsertInfo merges a decoded Device record into the table's entry at
// index i, deriving unique_id only once metadata has also arrived (the
// unique_id depends on the function name, which lives in metadata).
func (r *Registry) UpsertInfo(tableID uint32, index int, d protocol.Device) {
	t := r.TableFor(tableID)
	e := t.EntryOrCreate(index)
	e.mergeInfo(d)
	r.maybeActivate(e)
}

// UpsertMetadata merges a decoded DeviceMetadata record into the table's
// entry at index i.
func (r *Registry) UpsertMetadata(tableID uint32, index int, m protocol.DeviceMetadata) {
	t := r.TableFor(tableID)
	e := t.EntryOrCreate(index)
	e.mergeMetadata(m, r.rules)
	r.maybeActivate(e)
}

// maybeActivate publishes discovery and registers the unique_id index the
// first time an entry becomes entity_ready.
func (r *Registry) maybeActivate(e *DeviceEntry) {
	if !e.EntityReady() {
		return
	}
	e.mu.Lock()
	if e.UniqueID == "" {
		e.UniqueID = UniqueID(string(e.EntityType), e.TableID, uint16(e.DeviceID))
	}
	uid := e.UniqueID
	e.mu.Unlock()

	if _, loaded := r.byUniqueID.LoadOrStore(uid, e); loaded {
		return
	}
	metrics.DevicesReady.Set(float64(r.readyCount.Add(1)))
	if r.publisher != nil {
		r.publisher.PublishDiscovery(e)
	}
}

// AllReadyEntries returns every entity_ready entry across every table plus
// the battery (if it has been touched), for the 30s rediscovery ticker.
func (r *Registry) AllReadyEntries() []*DeviceEntry {
	r.mu.RLock()
	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	r.mu.RUnlock()

	var out []*DeviceEntry
	for _, t := range tables {
		for _, e := range t.Entries() {
			if e.EntityReady() {
				out = append(out, e)
			}
		}
	}
	if r.battery != nil {
		out = append(out, r.battery)
	}
	return out
}
