package ble

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePeripheral struct {
	mu          sync.Mutex
	connected   bool
	paired      bool
	seedReads   int
	writtenKey  []byte
	notifyFunc  func([]byte)
	writes      [][]byte
}

func (f *fakePeripheral) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}
func (f *fakePeripheral) IsConnected() bool { return f.connected }
func (f *fakePeripheral) Pair(ctx context.Context) error {
	f.paired = true
	return nil
}
func (f *fakePeripheral) IsPaired() bool { return f.paired }

func (f *fakePeripheral) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seedReads++
	if f.seedReads > 1 {
		return []byte("Unlocked"), nil
	}
	return []byte{0x54, 0xd7, 0x06, 0x4a}, nil
}

func (f *fakePeripheral) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uuid == CharKey {
		f.writtenKey = append([]byte{}, data...)
	} else {
		f.writes = append(f.writes, append([]byte{}, data...))
	}
	return nil
}

func (f *fakePeripheral) EnableNotifications(ctx context.Context, uuid string, handler func([]byte)) error {
	f.notifyFunc = handler
	return nil
}

func (f *fakePeripheral) Close() error { return nil }

type fakeScanner struct {
	dev *fakePeripheral
}

func (s *fakeScanner) ScanForName(ctx context.Context, name string) (Peripheral, error) {
	return s.dev, nil
}

func TestLinkManagerReachesRunningAndPumpsData(t *testing.T) {
	dev := &fakePeripheral{}
	lm := NewLinkManager(&fakeScanner{dev: dev}, "OneControl", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- lm.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for lm.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatalf("link manager never reached Running, stuck at %v", lm.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if len(dev.writtenKey) != 4 {
		t.Fatalf("expected 4-byte key write, got %v", dev.writtenKey)
	}
	wantKey := unlockSeed(0x54d7064a)
	gotKey := uint32(dev.writtenKey[0])<<24 | uint32(dev.writtenKey[1])<<16 | uint32(dev.writtenKey[2])<<8 | uint32(dev.writtenKey[3])
	if gotKey != wantKey {
		t.Fatalf("key = %#x, want %#x", gotKey, wantKey)
	}

	if err := lm.Send(ctx, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	waitDeadline := time.After(1 * time.Second)
	for {
		dev.mu.Lock()
		n := len(dev.writes)
		dev.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-waitDeadline:
			t.Fatalf("expected at least one GATT write")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
