// Package ble adapts tinygo.org/x/bluetooth to the internal/ble
// Scanner/Peripheral interfaces, discovering the gateway's RVLink service
// and caching its characteristics for the link manager's handshake and
// data pump.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	blelink "github.com/proctorlabs/rvlink-bridge/internal/ble"
	"github.com/proctorlabs/rvlink-bridge/internal/logger"
)

// ErrNotFound is returned when a scan times out without matching the
// configured device name.
var ErrNotFound = errors.New("ble: device not found")

// ErrCharacteristicMissing is returned when a required characteristic was
// not discovered on the connected peripheral.
var ErrCharacteristicMissing = errors.New("ble: characteristic not found")

// Config controls the real adapter's scan behavior.
type Config struct {
	ScanTimeout time.Duration
}

// DefaultConfig returns sane scan defaults.
func DefaultConfig() Config {
	return Config{ScanTimeout: 15 * time.Second}
}

// Adapter implements blelink.Scanner on top of the system's default
// Bluetooth adapter.
type Adapter struct {
	cfg  Config
	log  *logger.Logger
	impl *bluetooth.Adapter
}

// NewAdapter constructs an Adapter using the system's default adapter.
func NewAdapter(cfg Config, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Global()
	}
	return &Adapter{cfg: cfg, log: log, impl: bluetooth.DefaultAdapter}
}

// ScanForName implements blelink.Scanner.
func (a *Adapter) ScanForName(ctx context.Context, name string) (blelink.Peripheral, error) {
	if err := a.impl.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	var (
		mu    sync.Mutex
		found bluetooth.ScanResult
		ok    bool
	)
	done := make(chan struct{})

	err := a.impl.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			return
		}
		if result.LocalName() == name {
			found = result
			ok = true
			adapter.StopScan()
			close(done)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	timeout := a.cfg.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ScanTimeout
	}

	select {
	case <-done:
	case <-time.After(timeout):
		a.impl.StopScan()
		return nil, ErrNotFound
	case <-ctx.Done():
		a.impl.StopScan()
		return nil, ctx.Err()
	}

	a.log.Info("ble scan matched device", "name", name, "address", found.Address.String())

	return &peripheral{
		adapter: a.impl,
		address: found.Address,
		log:     a.log,
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}, nil
}

// peripheral implements blelink.Peripheral against a single scanned
// bluetooth.Address.
type peripheral struct {
	mu      sync.RWMutex
	adapter *bluetooth.Adapter
	address bluetooth.Address
	log     *logger.Logger

	device    *bluetooth.Device
	connected bool
	paired    bool

	chars map[string]bluetooth.DeviceCharacteristic
}

func (p *peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	device, err := p.adapter.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	p.device = &device

	services, err := device.DiscoverServices(nil)
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("discover services: %w", err)
	}

	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			p.chars[c.UUID().String()] = c
		}
	}

	p.connected = true
	return nil
}

func (p *peripheral) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Pair is a no-op beyond connection on platforms where tinygo's bluetooth
// package performs pairing implicitly during connect/bonding; RVLink
// gateways accept the key-exchange handshake without an explicit OS-level
// pairing step in the reference implementation.
func (p *peripheral) Pair(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired = true
	return nil
}

func (p *peripheral) IsPaired() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paired
}

func (p *peripheral) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chars[uuid]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicMissing, uuid)
	}
	return c, nil
}

func (p *peripheral) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	c, err := p.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uuid, err)
	}
	return buf[:n], nil
}

func (p *peripheral) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	c, err := p.characteristic(uuid)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write %s: %w", uuid, err)
	}
	return nil
}

func (p *peripheral) EnableNotifications(ctx context.Context, uuid string, handler func([]byte)) error {
	c, err := p.characteristic(uuid)
	if err != nil {
		return err
	}
	return c.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		handler(data)
	})
}

func (p *peripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		err := p.device.Disconnect()
		p.connected = false
		return err
	}
	return nil
}
