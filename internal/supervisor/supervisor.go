// Package supervisor implements the bridge's top-level lifecycle: it owns
// the BLE link manager, starts the engine's run loops (frame dispatch,
// rediscovery ticker, MQTT-driven command router), and recycles components
// on failure rather than crashing the process.
package supervisor

import (
	"context"
	"math/rand"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/ble"
	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/metrics"
	"github.com/proctorlabs/rvlink-bridge/internal/mux"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
	"github.com/proctorlabs/rvlink-bridge/internal/publisher"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
	"github.com/proctorlabs/rvlink-bridge/internal/router"
	"github.com/proctorlabs/rvlink-bridge/internal/rules"
)

// MQTTSubscriber is the subset of the MQTT transport the supervisor needs
// beyond what the publisher already uses.
type MQTTSubscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Supervisor wires the bridge's components together and drives the frame
// dispatch loop.
type Supervisor struct {
	link   *ble.LinkManager
	mux    *mux.Mux
	reg    *registry.Registry
	sync   *registry.Synchronizer
	pub    *publisher.Publisher
	router *router.Router
	mqtt   MQTTSubscriber
	log    *logger.Logger
	rules  rules.Engine
}

// New constructs a Supervisor. The caller has already wired publisher ->
// registry before this point.
func New(
	link *ble.LinkManager,
	m *mux.Mux,
	reg *registry.Registry,
	sync *registry.Synchronizer,
	pub *publisher.Publisher,
	rt *router.Router,
	mqtt MQTTSubscriber,
	log *logger.Logger,
) *Supervisor {
	if log == nil {
		log = logger.Global()
	}
	return &Supervisor{link: link, mux: m, reg: reg, sync: sync, pub: pub, router: rt, mqtt: mqtt, log: log, rules: rules.Noop}
}

// WithRulesEngine installs the scripted filter_event override hook. Passing
// nil restores the no-op engine.
func (s *Supervisor) WithRulesEngine(engine rules.Engine) {
	if engine == nil {
		engine = rules.Noop
	}
	s.rules = engine
}

// Run starts every run loop and blocks until ctx is cancelled (typically by
// a ctrl_c signal). A single process-level cancellation terminates all of
// them; individual task cancellation is not exposed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mux.Seed(uint16(rand.Intn(65536)))

	if err := s.mqtt.Subscribe(s.router.SubscribeTopic(), s.router.HandleMessage); err != nil {
		return err
	}

	go s.pub.RunRediscovery(ctx, s.reg)
	go s.dispatchLoop(ctx)
	go s.reportLinkState(ctx)

	return s.link.Run(ctx)
}

// reportLinkState polls the link manager's state into the link-state gauge;
// the link manager has no state-change callback, so polling is the
// simplest way to keep the gauge current.
func (s *Supervisor) reportLinkState(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.LinkState.Set(float64(s.link.State()))
		}
	}
}

// dispatchLoop is the inbound frame dispatcher: it decodes each rx frame
// into an Event and routes it to the mux (command responses), the
// synchronizer (gateway information), or a state mutator (relay/tank/rv
// events). Decode errors at the frame boundary are logged and the frame is
// dropped; the link is not torn down.
func (s *Supervisor) dispatchLoop(ctx context.Context) {
	for {
		payload, err := s.link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("dispatch: receive failed", "error", err)
			continue
		}

		ev, err := protocol.DecodeEvent(payload)
		if err != nil {
			metrics.FramesDecoded.WithLabelValues("error").Inc()
			s.log.Warn("dispatch: event decode failed", "error", err)
			continue
		}
		metrics.FramesDecoded.WithLabelValues("ok").Inc()

		if !s.rules.FilterEvent(ev.Type().String()) {
			continue
		}

		s.handleEvent(ctx, ev)
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.GatewayInformation:
		s.sync.OnGatewayInformation(ctx, e)

	case protocol.CommandResponseEvent:
		resp := e.Response()
		if !s.mux.Dispatch(resp) {
			s.log.Warn("dispatch: dropped response with no waiting command", "ccid", resp.ClientCommandID)
		}

	case protocol.RelayBasicLatchingStatusType2:
		s.applyRelay(e.DeviceTableID, e.Record)

	case protocol.RelayHBridgeMomentaryStatusType2:
		s.applyRelay(e.DeviceTableID, e.Record)

	case protocol.TankSensorStatus:
		s.applyTank(e)

	case protocol.RvStatus:
		s.applyRvStatus(e)

	case protocol.RawEvent:
		s.log.Debug("dispatch: unhandled event type", "type", e.EventType)

	default:
		s.log.Debug("dispatch: unrecognized event", "value", e)
	}
}

func (s *Supervisor) applyRelay(tableID uint8, rec protocol.RelayRecord) {
	t := s.reg.TableFor(uint32(tableID))
	e := t.EntryOrCreate(int(rec.DeviceID))
	state := protocol.SwitchState(protocol.Off)
	if rec.On() {
		state = protocol.SwitchState(protocol.On)
	}
	e.SetState(state)
	if e.EntityReady() {
		s.pub.Publish(e)
	}
}

func (s *Supervisor) applyTank(ts protocol.TankSensorStatus) {
	t := s.reg.TableFor(uint32(ts.DeviceTableID))
	for _, r := range ts.Readings {
		e := t.EntryOrCreate(int(r.DeviceID))
		e.SetState(protocol.PercentageState(r.Percentage))
		if e.EntityReady() {
			s.pub.Publish(e)
		}
	}
}

// applyRvStatus publishes battery voltage only when the event's feature
// flag marks it valid.
func (s *Supervisor) applyRvStatus(rv protocol.RvStatus) {
	if !rv.HasBatteryVoltage() {
		return
	}
	battery := s.reg.Battery()
	battery.SetState(protocol.VoltageState(rv.BatteryVoltage))
	s.pub.Publish(battery)
}
