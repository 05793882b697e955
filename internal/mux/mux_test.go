package mux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *recordingSender) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte{}, payload...))
	return nil
}

// TestSendCorrelatesAndStopsAtComplete verifies that a command gets one
// intermediate and one terminal response, and Send returns both without
// waiting further.
func TestSendCorrelatesAndStopsAtComplete(t *testing.T) {
	sender := &recordingSender{}
	m := New(sender)
	m.Seed(0x0122) // next allocation is 0x0123

	cmd := &protocol.GetDevices{DeviceTableID: 1, MaxDeviceRequestCount: 255}

	done := make(chan struct{})
	var responses []protocol.CommandResponse
	var sendErr error

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		responses, sendErr = m.Send(ctx, cmd)
		close(done)
	}()

	// Wait for the command to be sent (and thus registered) before dispatching.
	deadline := time.After(time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("command was never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if cmd.ClientCommandID() != 0x0123 {
		t.Fatalf("ccid = %#x, want 0x0123", cmd.ClientCommandID())
	}

	ok := m.Dispatch(protocol.CommandResponse{ClientCommandID: 0x0123, Success: true, Complete: false, Body: []byte{0xAA}})
	if !ok {
		t.Fatal("expected intermediate response to be dispatched")
	}
	ok = m.Dispatch(protocol.CommandResponse{ClientCommandID: 0x0123, Success: true, Complete: true, Body: []byte{0xBB}})
	if !ok {
		t.Fatal("expected terminal response to be dispatched")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after terminal response")
	}

	if sendErr != nil {
		t.Fatalf("Send returned error: %v", sendErr)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if !responses[1].Complete {
		t.Fatalf("last response should be complete")
	}
}

func TestDispatchAfterDeregistrationIsDropped(t *testing.T) {
	m := New(&recordingSender{})
	ok := m.Dispatch(protocol.CommandResponse{ClientCommandID: 0xFFFF, Complete: true})
	if ok {
		t.Fatal("expected dispatch to an unregistered ccid to be dropped")
	}
}

func TestSendTimesOutWithoutTerminalResponse(t *testing.T) {
	m := New(&recordingSender{})
	cmd := &protocol.GetFirmwareInformation{FirmwareInformationCode: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, cmd)
	if err == nil {
		t.Fatal("expected Send to fail when no response arrives before ctx deadline")
	}
}
