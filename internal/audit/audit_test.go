package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/mux"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRecordAndRecent(t *testing.T) {
	log := openTestLog(t)

	if err := log.Record(0x0001, "ActionSwitch", OutcomeSuccess, ""); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := log.Record(0x0002, "ActionMovement", OutcomeTimeout, "no terminal response"); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	records, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	// newest first
	if records[0].CCID != 0x0002 || records[0].Outcome != OutcomeTimeout {
		t.Fatalf("unexpected newest record: %+v", records[0])
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	log := openTestLog(t)
	for i := 0; i < 5; i++ {
		if err := log.Record(uint16(i), "GetDevices", OutcomeSent, ""); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}
	records, err := log.Recent(2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

type recordingSender struct {
	mu  sync.Mutex
	got bool
}

func (s *recordingSender) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	s.got = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sentYet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func TestAuditingSenderRecordsSuccessOutcome(t *testing.T) {
	log := openTestLog(t)
	rs := &recordingSender{}
	m := mux.New(rs)
	sender := NewAuditingSender(m, log)

	cmd := &protocol.GetFirmwareInformation{FirmwareInformationCode: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = sender.Send(ctx, cmd)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !rs.sentYet() {
		select {
		case <-deadline:
			t.Fatal("command was never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ok := m.Dispatch(protocol.CommandResponse{ClientCommandID: cmd.ClientCommandID(), Success: true, Complete: true})
	if !ok {
		t.Fatal("expected terminal response to be dispatched")
	}

	<-done
	if sendErr != nil {
		t.Fatalf("Send returned error: %v", sendErr)
	}

	records, err := log.Recent(1)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	if records[0].Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %q, want %q", records[0].Outcome, OutcomeSuccess)
	}
}
