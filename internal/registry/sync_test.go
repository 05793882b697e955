package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

func completionBody(crc uint32, count uint8) []byte {
	return []byte{
		byte(crc >> 24), byte(crc >> 16), byte(crc >> 8), byte(crc),
		count,
	}
}

func TestAccumulateDevicesSuccess(t *testing.T) {
	responses := []protocol.CommandResponse{
		{Success: true, Complete: false, Body: []byte{1, 0, 0}}, // table 1, start 0, count 0, no devices
		{Success: true, Complete: true, Body: completionBody(0xAABBCCDD, 0)},
	}
	var batch []protocol.Device
	ok, count, crc := accumulateDevices(responses, &batch)
	if !ok {
		t.Fatal("expected accumulateDevices to report success")
	}
	if count != 0 || crc != 0xAABBCCDD {
		t.Fatalf("count=%d crc=%#x, want count=0 crc=0xAABBCCDD", count, crc)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %d", len(batch))
	}
}

func TestAccumulateDevicesFailureResponse(t *testing.T) {
	responses := []protocol.CommandResponse{
		{Success: false, Complete: true},
	}
	var batch []protocol.Device
	ok, _, _ := accumulateDevices(responses, &batch)
	if ok {
		t.Fatal("expected accumulateDevices to report failure on a Success=false response")
	}
}

func TestAccumulateDevicesNeverTerminates(t *testing.T) {
	responses := []protocol.CommandResponse{
		{Success: true, Complete: false, Body: []byte{1, 0, 0}},
	}
	var batch []protocol.Device
	ok, _, _ := accumulateDevices(responses, &batch)
	if ok {
		t.Fatal("expected accumulateDevices to report failure when no terminal response was present")
	}
}

func TestAccumulateMetadataSuccess(t *testing.T) {
	responses := []protocol.CommandResponse{
		{Success: true, Complete: false, Body: []byte{1, 0, 0}},
		{Success: true, Complete: true, Body: completionBody(0x11223344, 0)},
	}
	var batch []protocol.DeviceMetadata
	ok, count, crc := accumulateMetadata(responses, &batch)
	if !ok {
		t.Fatal("expected accumulateMetadata to report success")
	}
	if count != 0 || crc != 0x11223344 {
		t.Fatalf("count=%d crc=%#x, want count=0 crc=0x11223344", count, crc)
	}
}

// fakeSender lets tests script canned responses per command type without
// spinning up a real *mux.Mux.
type fakeSender struct {
	deviceResponses   []protocol.CommandResponse
	metadataResponses []protocol.CommandResponse
}

func (f *fakeSender) Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error) {
	switch cmd.(type) {
	case *protocol.GetDevices:
		return f.deviceResponses, nil
	case *protocol.GetDevicesMetadata:
		return f.metadataResponses, nil
	}
	return nil, nil
}

func TestOnGatewayInformationSkipsUpToDateTables(t *testing.T) {
	reg := New(nil)
	// A sender that records whether it was ever invoked: OnGatewayInformation
	// must not spawn a resync when the table is already synced to the
	// announced CRCs.
	sender := &countingSender{}
	sync := NewSynchronizer(reg, sender, nil)

	table := reg.TableFor(1)
	table.mu.Lock()
	table.DeviceTableCRC = 42
	table.DeviceMetadataCRC = 99
	table.deviceTableStale.Store(false)
	table.metadataStale.Store(false)
	table.mu.Unlock()

	info := protocol.GatewayInformation{DeviceTableID: 1, DeviceTableCRC: 42, DeviceMetadataCRC: 99}
	sync.OnGatewayInformation(context.Background(), info)

	time.Sleep(20 * time.Millisecond)
	if sender.calls.Load() != 0 {
		t.Fatalf("expected no Send calls for an already-synced table, got %d", sender.calls.Load())
	}
}

type countingSender struct {
	calls atomic.Int64
}

func (c *countingSender) Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestOnGatewayInformationTriggersResyncOnCRCMismatch(t *testing.T) {
	reg := New(nil)
	sender := &fakeSender{
		deviceResponses:   []protocol.CommandResponse{{Success: true, Complete: true, Body: completionBody(42, 0)}},
		metadataResponses: []protocol.CommandResponse{{Success: true, Complete: true, Body: completionBody(99, 0)}},
	}
	sync := NewSynchronizer(reg, sender, nil)

	info := protocol.GatewayInformation{DeviceTableID: 1, DeviceTableCRC: 42, DeviceMetadataCRC: 99}
	sync.OnGatewayInformation(context.Background(), info)

	// Both syncs run in their own goroutines; wait for them to finish.
	table := reg.TableFor(1)
	deadline := time.Now().Add(time.Second)
	for (table.deviceTableStale.Load() || table.metadataStale.Load()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	table.mu.RLock()
	defer table.mu.RUnlock()
	if table.DeviceTableCRC != info.DeviceTableCRC {
		t.Fatalf("DeviceTableCRC = %#x, want %#x", table.DeviceTableCRC, info.DeviceTableCRC)
	}
	if table.DeviceMetadataCRC != info.DeviceMetadataCRC {
		t.Fatalf("DeviceMetadataCRC = %#x, want %#x", table.DeviceMetadataCRC, info.DeviceMetadataCRC)
	}
	if table.deviceTableStale.Load() || table.metadataStale.Load() {
		t.Fatal("expected both staleness flags to clear after a successful sync")
	}
}
