// Package mux implements the command/response multiplexer: every outbound
// command is stamped with a wrapping 16-bit correlation id, registered
// against a response channel, and deregistered the moment the terminal
// response arrives or the 15s wait times out.
package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/metrics"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

// ErrTimeout is returned by Send when no terminal response arrives within
// the per-command window.
var ErrTimeout = errors.New("mux: command timed out")

// SendTimeout is the fixed per-command wait before a send gives up.
const SendTimeout = 15 * time.Second

// Sender pushes an encoded command frame to the link (BLE tx queue).
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Mux allocates correlation ids and fans decoded CommandResponse events out
// to the goroutine awaiting that id.
type Mux struct {
	counter uint32 // truncated to uint16 on use; atomic fetch-add

	mu      sync.Mutex
	waiters map[uint16]chan protocol.CommandResponse

	sender Sender
}

// New constructs a Mux that writes outbound frames through sender. The
// counter is not seeded here — callers should call Seed to randomize the
// starting correlation id at process startup.
func New(sender Sender) *Mux {
	return &Mux{
		waiters: make(map[uint16]chan protocol.CommandResponse),
		sender:  sender,
	}
}

// Seed sets the initial counter value; the ccid counter is seeded randomly
// at process startup.
func (m *Mux) Seed(initial uint16) {
	atomic.StoreUint32(&m.counter, uint32(initial))
}

func (m *Mux) nextCCID() uint16 {
	return uint16(atomic.AddUint32(&m.counter, 1))
}

// Send issues cmd and blocks until its terminal response arrives,
// returning every response (intermediate and terminal) collected along
// the way.
func (m *Mux) Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error) {
	ccid := m.nextCCID()
	cmd.SetClientCommandID(ccid)

	ch := make(chan protocol.CommandResponse, 8)
	m.mu.Lock()
	m.waiters[ccid] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, ccid)
		m.mu.Unlock()
	}()

	payload, err := cmd.Encode()
	if err != nil {
		metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "error").Inc()
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if err := m.sender.Send(ctx, payload); err != nil {
		metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "error").Inc()
		return nil, fmt.Errorf("send command: %w", err)
	}

	timer := time.NewTimer(SendTimeout)
	defer timer.Stop()

	var responses []protocol.CommandResponse
	for {
		select {
		case resp, ok := <-ch:
			if !ok {
				metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "timeout").Inc()
				return responses, ErrTimeout
			}
			responses = append(responses, resp)
			if resp.Complete {
				metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "success").Inc()
				return responses, nil
			}
		case <-timer.C:
			metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "timeout").Inc()
			return responses, ErrTimeout
		case <-ctx.Done():
			metrics.CommandsSent.WithLabelValues(cmd.Type().String(), "error").Inc()
			return responses, ctx.Err()
		}
	}
}

// Dispatch routes a decoded CommandResponse to its waiter, if any is still
// registered. Responses for an already-deregistered ccid are dropped with
// a warning logged by the caller (the dispatcher owns logging context).
func (m *Mux) Dispatch(resp protocol.CommandResponse) bool {
	m.mu.Lock()
	ch, ok := m.waiters[resp.ClientCommandID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}
