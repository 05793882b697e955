// Package ble implements the BLE link state machine: discover the gateway,
// connect, pair, complete the key-exchange handshake, then pump
// COBS-framed payloads over a pair of GATT characteristics. It is
// deliberately decoupled from any concrete BLE stack — internal/transport/ble
// supplies the Scanner/Peripheral implementation backed by
// tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/frame"
	"github.com/proctorlabs/rvlink-bridge/internal/logger"
)

// Service/characteristic UUIDs, bit-exact with the gateway's GATT table.
const (
	ServiceRVLink      = "00000041-0200-a58e-e411-afe28044e62c"
	ServiceKeyExchange = "00000010-0200-a58e-e411-afe28044e62c"
	ServiceUnknown     = "00000020-0200-a58e-e411-afe28044e62c"
	ServiceData        = "00000030-0200-a58e-e411-afe28044e62c"
	ServiceDeviceInfo  = "0000180a-0000-1000-8000-00805f9b34fb"
	ServiceGenericAttr = "00001801-0000-1000-8000-00805f9b34fb"

	CharSeed  = "00000012-0200-a58e-e411-afe28044e62c"
	CharKey   = "00000013-0200-a58e-e411-afe28044e62c"
	CharWrite = "00000033-0200-a58e-e411-afe28044e62c"
	CharRead  = "00000034-0200-a58e-e411-afe28044e62c"
)

// State is one node of the link manager's state machine.
type State int

const (
	StateStopped State = iota
	StateScanning
	StateConnecting
	StateHandshaking
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ErrLinkLost is returned by Send when the link is not Running. Receive does
// not check the link state; it blocks until a payload arrives or ctx ends.
var ErrLinkLost = errors.New("ble: link lost")

// Peripheral abstracts the GATT operations the link manager needs against a
// single connected device.
type Peripheral interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Pair(ctx context.Context) error
	IsPaired() bool
	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error
	EnableNotifications(ctx context.Context, uuid string, handler func([]byte)) error
	Close() error
}

// Scanner discovers a Peripheral by advertised device name.
type Scanner interface {
	ScanForName(ctx context.Context, name string) (Peripheral, error)
}

// LinkManager drives the BLE state machine and exposes a simple
// Send/Receive pair of queues carrying decoded application payloads.
type LinkManager struct {
	scanner    Scanner
	deviceName string
	log        *logger.Logger

	mu    sync.RWMutex
	state State

	device Peripheral

	tx chan []byte
	rx chan []byte

	lastRx time.Time
}

// NewLinkManager constructs a LinkManager for the named gateway device.
func NewLinkManager(scanner Scanner, deviceName string, log *logger.Logger) *LinkManager {
	if log == nil {
		log = logger.Global()
	}
	return &LinkManager{
		scanner:    scanner,
		deviceName: deviceName,
		log:        log,
		state:      StateStopped,
		tx:         make(chan []byte, 64),
		rx:         make(chan []byte, 64),
	}
}

// State returns the current state machine node.
func (lm *LinkManager) State() State {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.state
}

func (lm *LinkManager) setState(s State) {
	lm.mu.Lock()
	lm.state = s
	lm.mu.Unlock()
}

// Send enqueues an application payload for COBS-encoding and transmission.
// It fails fast with ErrLinkLost if the link isn't Running.
func (lm *LinkManager) Send(ctx context.Context, payload []byte) error {
	if lm.State() != StateRunning {
		return ErrLinkLost
	}
	select {
	case lm.tx <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a decoded application payload arrives from the link.
func (lm *LinkManager) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-lm.rx:
		if !ok {
			return nil, ErrLinkLost
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled, and returns only on
// cancellation. Scan failures are retried after a 750ms backoff; BLE-level
// failures cycle the state machine back to Connecting rather than
// propagating: 30s of BLE silence recycles the link manager back to
// Connecting instead of tearing down the whole process.
func (lm *LinkManager) Run(ctx context.Context) error {
	lm.setState(StateScanning)
	for {
		select {
		case <-ctx.Done():
			lm.setState(StateStopped)
			return ctx.Err()
		default:
		}

		switch lm.State() {
		case StateScanning:
			dev, err := lm.scanner.ScanForName(ctx, lm.deviceName)
			if err != nil {
				lm.log.Warn("ble scan failed", "error", err)
				if sleepOrDone(ctx, 750*time.Millisecond) {
					return ctx.Err()
				}
				continue
			}
			lm.mu.Lock()
			lm.device = dev
			lm.mu.Unlock()
			lm.setState(StateConnecting)

		case StateConnecting:
			if err := lm.doConnect(ctx); err != nil {
				lm.log.Warn("ble connect failed", "error", err)
				if sleepOrDone(ctx, 750*time.Millisecond) {
					return ctx.Err()
				}
				continue
			}
			lm.setState(StateHandshaking)

		case StateHandshaking:
			unlocked, err := lm.doHandshake(ctx)
			if err != nil {
				lm.log.Warn("ble handshake failed", "error", err)
				lm.setState(StateConnecting)
				if sleepOrDone(ctx, 1500*time.Millisecond) {
					return ctx.Err()
				}
				continue
			}
			if unlocked {
				lm.setState(StateRunning)
			}
			// else: stay in Handshaking, doHandshake already slept 1s
			// before returning to re-confirm the unlock.

		case StateRunning:
			if err := lm.doRun(ctx); err != nil {
				lm.log.Warn("ble run loop ended", "error", err)
				lm.setState(StateConnecting)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func (lm *LinkManager) doConnect(ctx context.Context) error {
	lm.mu.RLock()
	dev := lm.device
	lm.mu.RUnlock()
	if dev == nil {
		return fmt.Errorf("ble: no device selected")
	}
	if !dev.IsConnected() {
		if err := dev.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	if !dev.IsPaired() {
		if err := dev.Pair(ctx); err != nil {
			return fmt.Errorf("pair: %w", err)
		}
	}
	return nil
}

// doHandshake performs one round of the key-exchange unlock. It returns
// (true, nil) once the seed characteristic reports "Unlocked".
func (lm *LinkManager) doHandshake(ctx context.Context) (bool, error) {
	lm.mu.RLock()
	dev := lm.device
	lm.mu.RUnlock()

	seedBytes, err := dev.ReadCharacteristic(ctx, CharSeed)
	if err != nil {
		return false, fmt.Errorf("read seed: %w", err)
	}

	if string(seedBytes) == string(unlockedResponse) {
		return true, nil
	}

	if len(seedBytes) != 4 {
		return false, fmt.Errorf("ble: unexpected seed length %d", len(seedBytes))
	}

	seed := uint32(seedBytes[0])<<24 | uint32(seedBytes[1])<<16 | uint32(seedBytes[2])<<8 | uint32(seedBytes[3])
	key := unlockSeed(seed)
	keyBytes := []byte{byte(key >> 24), byte(key >> 16), byte(key >> 8), byte(key)}

	if err := dev.WriteCharacteristic(ctx, CharKey, keyBytes); err != nil {
		return false, fmt.Errorf("write key: %w", err)
	}

	if sleepOrDone(ctx, time.Second) {
		return false, ctx.Err()
	}
	return false, nil
}

// doRun subscribes to notifications and pumps the tx/rx queues until 30s of
// silence elapses or the context is cancelled.
func (lm *LinkManager) doRun(ctx context.Context) error {
	lm.mu.RLock()
	dev := lm.device
	lm.mu.RUnlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lm.lastRx = time.Now()
	err := dev.EnableNotifications(runCtx, CharRead, func(notified []byte) {
		decoded, decErr := frame.Decode(notified)
		if decErr != nil {
			lm.log.Warn("ble frame decode failed", "error", decErr)
			return
		}
		lm.lastRx = time.Now()
		select {
		case lm.rx <- decoded:
		default:
			lm.log.Warn("ble rx queue full, dropping frame")
		}
	})
	if err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}

	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-lm.tx:
			encoded, encErr := frame.Encode(payload)
			if encErr != nil {
				lm.log.Error("ble frame encode failed", "error", encErr)
				continue
			}
			if err := dev.WriteCharacteristic(ctx, CharWrite, encoded); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-idle.C:
			if time.Since(lm.lastRx) > 30*time.Second {
				return fmt.Errorf("ble: no data received for 30 seconds")
			}
		}
	}
}

// Close releases the currently selected peripheral, if any.
func (lm *LinkManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.device != nil {
		return lm.device.Close()
	}
	return nil
}
