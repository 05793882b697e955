package registry

import (
	"context"
	"math/rand"
	"time"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

// CommandSender is the subset of *mux.Mux the synchronizer needs: issue a
// command and collect its full response stream.
type CommandSender interface {
	Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error)
}

// backoffMin and backoffMin+backoffJit bound the jittered retry delay used
// after a failed send, a device-count mismatch or a Failure/FailureComplete
// response.
const (
	backoffMin = 800 * time.Millisecond
	backoffJit = 700 * time.Millisecond // max-min
)

// Synchronizer drives the sync_devices / sync_devices_metadata procedures
// in response to GatewayInformation events.
type Synchronizer struct {
	reg    *Registry
	sender CommandSender
	log    *logger.Logger
}

// NewSynchronizer constructs a Synchronizer bound to reg, issuing commands
// through sender.
func NewSynchronizer(reg *Registry, sender CommandSender, log *logger.Logger) *Synchronizer {
	if log == nil {
		log = logger.Global()
	}
	return &Synchronizer{reg: reg, sender: sender, log: log}
}

// OnGatewayInformation is the resync trigger: create the table if unseen,
// and schedule sync_devices / sync_devices_metadata whenever the
// corresponding CRC differs from what's already synced. Info and metadata
// syncs are spawned as independent goroutines and run concurrently.
func (s *Synchronizer) OnGatewayInformation(ctx context.Context, info protocol.GatewayInformation) {
	tableID := uint32(info.DeviceTableID)
	t := s.reg.TableFor(tableID)

	t.mu.RLock()
	tableStale := t.deviceTableStale.Load() || t.DeviceTableCRC != info.DeviceTableCRC
	metaStale := t.metadataStale.Load() || t.DeviceMetadataCRC != info.DeviceMetadataCRC
	t.mu.RUnlock()

	if tableStale {
		go s.syncDevices(ctx, tableID)
	}
	if metaStale {
		go s.syncDevicesMetadata(ctx, tableID)
	}
}

func jitterBackoff(ctx context.Context) bool {
	d := backoffMin + time.Duration(rand.Int63n(int64(backoffJit)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

// syncDevices implements the GetDevices half of the sync procedure.
func (s *Synchronizer) syncDevices(ctx context.Context, tableID uint32) {
	for {
		var batch []protocol.Device
		cmd := &protocol.GetDevices{
			DeviceTableID:         uint8(tableID),
			StartDeviceID:         0,
			MaxDeviceRequestCount: 255,
		}
		responses, err := s.sender.Send(ctx, cmd)
		if err != nil {
			s.log.Warn("sync_devices send failed", "table", tableID, "error", err)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		ok, count, crc := accumulateDevices(responses, &batch)
		if !ok {
			s.log.Warn("sync_devices failure response", "table", tableID)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		if len(batch) != int(count) {
			s.log.Warn("sync_devices count mismatch, retrying",
				"table", tableID, "got", len(batch), "want", count)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		for i, d := range batch {
			s.reg.UpsertInfo(tableID, i, d)
		}
		t := s.reg.TableFor(tableID)
		t.mu.Lock()
		t.DeviceTableCRC = crc
		t.lastDeviceCount = count
		t.deviceTableStale.Store(false)
		t.mu.Unlock()
		return
	}
}

// syncDevicesMetadata mirrors syncDevices for GetDevicesMetadata.
func (s *Synchronizer) syncDevicesMetadata(ctx context.Context, tableID uint32) {
	for {
		var batch []protocol.DeviceMetadata
		cmd := &protocol.GetDevicesMetadata{
			DeviceTableID:         uint8(tableID),
			StartDeviceID:         0,
			MaxDeviceRequestCount: 255,
		}
		responses, err := s.sender.Send(ctx, cmd)
		if err != nil {
			s.log.Warn("sync_devices_metadata send failed", "table", tableID, "error", err)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		ok, count, crc := accumulateMetadata(responses, &batch)
		if !ok {
			s.log.Warn("sync_devices_metadata failure response", "table", tableID)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		if len(batch) != int(count) {
			s.log.Warn("sync_devices_metadata count mismatch, retrying",
				"table", tableID, "got", len(batch), "want", count)
			if jitterBackoff(ctx) {
				return
			}
			continue
		}

		for i, m := range batch {
			s.reg.UpsertMetadata(tableID, i, m)
		}
		t := s.reg.TableFor(tableID)
		t.mu.Lock()
		t.DeviceMetadataCRC = crc
		t.metadataStale.Store(false)
		t.mu.Unlock()
		return
	}
}

// accumulateDevices folds a send() response stream into batch, returning
// (ok, declared device_count, crc). ok is false on any Failure/
// FailureComplete response.
func accumulateDevices(responses []protocol.CommandResponse, batch *[]protocol.Device) (bool, uint8, uint32) {
	for _, r := range responses {
		if !r.Success {
			return false, 0, 0
		}
		if r.Complete {
			completion, err := protocol.DecodeGetDevicesCompletion(r.Body)
			if err != nil {
				return false, 0, 0
			}
			return true, completion.DeviceCount, completion.CRC
		}
		b, err := protocol.DecodeGetDevicesBatch(r.Body)
		if err != nil {
			return false, 0, 0
		}
		*batch = append(*batch, b.Devices...)
	}
	return false, 0, 0
}

// accumulateMetadata mirrors accumulateDevices for DeviceMetadata.
func accumulateMetadata(responses []protocol.CommandResponse, batch *[]protocol.DeviceMetadata) (bool, uint8, uint32) {
	for _, r := range responses {
		if !r.Success {
			return false, 0, 0
		}
		if r.Complete {
			completion, err := protocol.DecodeGetDevicesCompletion(r.Body)
			if err != nil {
				return false, 0, 0
			}
			return true, completion.DeviceCount, completion.CRC
		}
		b, err := protocol.DecodeGetDevicesMetadataBatch(r.Body)
		if err != nil {
			return false, 0, 0
		}
		*batch = append(*batch, b.Devices...)
	}
	return false, 0, 0
}
