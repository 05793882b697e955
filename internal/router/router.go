// Package router implements the command router: it maps an inbound MQTT
// command topic/payload pair back to a (table, device) action and
// dispatches it as a protocol command, fire-and-forget, so the router
// keeps up with the MQTT inbound stream even while a BLE send is still in
// flight.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
)

// sendTimeout is generous over mux.SendTimeout so the router's own context
// deadline is never what cuts a send short.
const sendTimeout = 20 * time.Second

// CommandSender is the subset of *mux.Mux the router needs.
type CommandSender interface {
	Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error)
}

// EntryLookup is the subset of *registry.Registry the router needs.
type EntryLookup interface {
	EntryByUniqueID(uniqueID string) (*registry.DeviceEntry, bool)
}

// Router subscribes to "{base_topic}+/cmd" and translates payloads to
// ActionSwitch/ActionMovement commands.
type Router struct {
	baseTopic string
	reg       EntryLookup
	sender    CommandSender
	log       *logger.Logger
}

// New constructs a Router. baseTopic must match the one the publisher uses
// to build per-device topics.
func New(baseTopic string, reg EntryLookup, sender CommandSender, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Global()
	}
	return &Router{baseTopic: baseTopic, reg: reg, sender: sender, log: log}
}

// SubscribeTopic is the MQTT wildcard topic this router must be subscribed
// to.
func (r *Router) SubscribeTopic() string {
	return r.baseTopic + "+/cmd"
}

// HandleMessage strips the topic's base/suffix to recover unique_id, looks
// up the entry, maps the payload to an action, and fires the command off
// without waiting for its response.
func (r *Router) HandleMessage(topic string, payload []byte) {
	uniqueID, ok := r.parseUniqueID(topic)
	if !ok {
		r.log.Warn("router: topic did not match command pattern", "topic", topic)
		return
	}

	entry, ok := r.reg.EntryByUniqueID(uniqueID)
	if !ok {
		r.log.Warn("router: unknown unique_id, dropping command", "unique_id", uniqueID)
		return
	}
	if !entry.IsAddressBearing() {
		r.log.Warn("router: unique_id is not address-bearing, dropping command", "unique_id", uniqueID)
		return
	}

	cmd, ok := actionFor(entry, string(payload))
	if !ok {
		r.log.Warn("router: unrecognized command payload, dropping", "unique_id", uniqueID, "payload", string(payload))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if _, err := r.sender.Send(ctx, cmd); err != nil {
			r.log.Warn("router: command send failed", "unique_id", uniqueID, "error", err)
		}
	}()
}

func (r *Router) parseUniqueID(topic string) (string, bool) {
	if !strings.HasPrefix(topic, r.baseTopic) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, r.baseTopic)
	if !strings.HasSuffix(rest, "/cmd") {
		return "", false
	}
	return strings.TrimSuffix(rest, "/cmd"), true
}

// actionFor maps a textual command payload to the protocol command it
// represents: "on"/"off" -> ActionSwitch, "open"/"close"/"stop" ->
// ActionMovement.
func actionFor(entry *registry.DeviceEntry, payload string) (protocol.Command, bool) {
	switch payload {
	case "on":
		return &protocol.ActionSwitch{
			DeviceTableID: uint8(entry.TableID),
			DeviceState:   protocol.On,
			FirstDeviceID: uint8(entry.DeviceID),
		}, true
	case "off":
		return &protocol.ActionSwitch{
			DeviceTableID: uint8(entry.TableID),
			DeviceState:   protocol.Off,
			FirstDeviceID: uint8(entry.DeviceID),
		}, true
	case "open":
		return &protocol.ActionMovement{
			DeviceTableID: uint8(entry.TableID),
			DeviceID:      uint8(entry.DeviceID),
			DeviceState:   protocol.RelayOpen,
		}, true
	case "close":
		return &protocol.ActionMovement{
			DeviceTableID: uint8(entry.TableID),
			DeviceID:      uint8(entry.DeviceID),
			DeviceState:   protocol.RelayClose,
		}, true
	case "stop":
		return &protocol.ActionMovement{
			DeviceTableID: uint8(entry.TableID),
			DeviceID:      uint8(entry.DeviceID),
			DeviceState:   protocol.RelayStop,
		}, true
	default:
		return nil, false
	}
}
