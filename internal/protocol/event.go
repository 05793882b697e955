package protocol

// EventType is the 1-byte wire discriminator for an unsolicited event
// (spec §3 "Event"). The full table mirrors the original implementation;
// event types with no typed struct below decode into RawEvent so the
// supervisor can still log/forward them instead of failing decode outright
// (see SPEC_FULL.md, "Full event table").
type EventType uint8

const (
	EventGatewayInformation               EventType = 1
	EventCommandResponse                  EventType = 2
	EventDeviceOnlineStatus               EventType = 3
	EventDeviceLockStatus                 EventType = 4
	EventRelayBasicLatchingStatusType1    EventType = 5
	EventRelayBasicLatchingStatusType2    EventType = 6
	EventRvStatus                         EventType = 7
	EventDimmableLightStatus              EventType = 8
	EventRgbLightStatus                   EventType = 9
	EventGeneratorGenieStatus             EventType = 10
	EventHvacStatus                       EventType = 11
	EventTankSensorStatus                 EventType = 12
	EventRelayHBridgeMomentaryStatusType1 EventType = 13
	EventRelayHBridgeMomentaryStatusType2 EventType = 14
	EventHourMeterStatus                  EventType = 15
	EventLeveler4DeviceStatus             EventType = 16
	EventLevelerConsoleText               EventType = 17
	EventLeveler1DeviceStatus             EventType = 18
	EventLeveler3DeviceStatus             EventType = 19
	EventDeviceSessionStatus              EventType = 26
	EventRealTimeClock                    EventType = 32
	EventCloudGatewayStatus               EventType = 33
	EventTemperatureSensorStatus          EventType = 34
	EventJaycoTbbStatus                   EventType = 35
	EventMonitorPanelStatus               EventType = 43
	EventAccessoryGatewayStatus           EventType = 44
	EventAwningSensorStatus               EventType = 47
	EventBrakingSystemStatus              EventType = 48
	EventBatteryMonitorStatus             EventType = 49
	EventDoorLockStatus                   EventType = 51
	EventHostDebug                        EventType = 102
)

var eventTypeNames = map[EventType]string{
	EventGatewayInformation:               "GatewayInformation",
	EventCommandResponse:                  "CommandResponse",
	EventDeviceOnlineStatus:               "DeviceOnlineStatus",
	EventDeviceLockStatus:                 "DeviceLockStatus",
	EventRelayBasicLatchingStatusType1:    "RelayBasicLatchingStatusType1",
	EventRelayBasicLatchingStatusType2:    "RelayBasicLatchingStatusType2",
	EventRvStatus:                         "RvStatus",
	EventDimmableLightStatus:              "DimmableLightStatus",
	EventRgbLightStatus:                   "RgbLightStatus",
	EventGeneratorGenieStatus:             "GeneratorGenieStatus",
	EventHvacStatus:                       "HvacStatus",
	EventTankSensorStatus:                 "TankSensorStatus",
	EventRelayHBridgeMomentaryStatusType1: "RelayHBridgeMomentaryStatusType1",
	EventRelayHBridgeMomentaryStatusType2: "RelayHBridgeMomentaryStatusType2",
	EventHourMeterStatus:                  "HourMeterStatus",
	EventLeveler4DeviceStatus:             "Leveler4DeviceStatus",
	EventLevelerConsoleText:               "LevelerConsoleText",
	EventLeveler1DeviceStatus:             "Leveler1DeviceStatus",
	EventLeveler3DeviceStatus:             "Leveler3DeviceStatus",
	EventDeviceSessionStatus:              "DeviceSessionStatus",
	EventRealTimeClock:                    "RealTimeClock",
	EventCloudGatewayStatus:               "CloudGatewayStatus",
	EventTemperatureSensorStatus:          "TemperatureSensorStatus",
	EventJaycoTbbStatus:                   "JaycoTbbStatus",
	EventMonitorPanelStatus:               "MonitorPanelStatus",
	EventAccessoryGatewayStatus:           "AccessoryGatewayStatus",
	EventAwningSensorStatus:               "AwningSensorStatus",
	EventBrakingSystemStatus:              "BrakingSystemStatus",
	EventBatteryMonitorStatus:             "BatteryMonitorStatus",
	EventDoorLockStatus:                   "DoorLockStatus",
	EventHostDebug:                        "HostDebug",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Event is any decoded, unsolicited gateway event.
type Event interface {
	Type() EventType
}

// RawEvent is returned for event types with no dedicated struct; Body is
// the event payload including the leading type byte.
type RawEvent struct {
	EventType EventType
	Body      []byte
}

func (e RawEvent) Type() EventType { return e.EventType }

// GatewayInformation carries the device/metadata table CRCs that drive
// registry resynchronization (spec §4.E).
type GatewayInformation struct {
	ProtocolVersion   uint8
	Options           uint8
	DeviceCount       uint8
	DeviceTableID     uint8
	DeviceTableCRC    uint32
	DeviceMetadataCRC uint32
}

func (GatewayInformation) Type() EventType { return EventGatewayInformation }

func decodeGatewayInformation(data []byte) (GatewayInformation, error) {
	if len(data) < 13 {
		return GatewayInformation{}, ErrIncorrectDataSize
	}
	tableCRC, err := getUint32(data, 5)
	if err != nil {
		return GatewayInformation{}, err
	}
	metaCRC, err := getUint32(data, 9)
	if err != nil {
		return GatewayInformation{}, err
	}
	return GatewayInformation{
		ProtocolVersion:   data[1],
		Options:           data[2],
		DeviceCount:       data[3],
		DeviceTableID:     data[4],
		DeviceTableCRC:    tableCRC,
		DeviceMetadataCRC: metaCRC,
	}, nil
}

// RvStatus carries battery voltage / external temperature, each gated by a
// feature-index bit (spec §6.1).
type RvStatus struct {
	BatteryVoltage      FixedU16_8
	ExternalTemperature FixedU16_8
	FeatureIndex        uint8
}

func (RvStatus) Type() EventType { return EventRvStatus }

func (r RvStatus) HasBatteryVoltage() bool      { return r.FeatureIndex&0x01 != 0 }
func (r RvStatus) HasExternalTemperature() bool { return r.FeatureIndex&0x02 != 0 }

func decodeRvStatus(data []byte) (RvStatus, error) {
	if len(data) < 6 {
		return RvStatus{}, ErrIncorrectDataSize
	}
	bv, err := getUint16(data, 1)
	if err != nil {
		return RvStatus{}, err
	}
	et, err := getUint16(data, 3)
	if err != nil {
		return RvStatus{}, err
	}
	return RvStatus{
		BatteryVoltage:      FixedU16_8(bv),
		ExternalTemperature: FixedU16_8(et),
		FeatureIndex:        data[5],
	}, nil
}

// DeviceOnlineStatus carries a per-device online/offline bitset.
type DeviceOnlineStatus struct {
	DeviceTableID uint8
	DeviceCount   uint8
	Bits          []byte
}

func (DeviceOnlineStatus) Type() EventType { return EventDeviceOnlineStatus }

func decodeDeviceOnlineStatus(data []byte) (DeviceOnlineStatus, error) {
	if len(data) < 3 {
		return DeviceOnlineStatus{}, ErrIncorrectDataSize
	}
	return DeviceOnlineStatus{
		DeviceTableID: data[1],
		DeviceCount:   data[2],
		Bits:          data[3:],
	}, nil
}

// DeviceSessionStatus carries a per-device session-open bitset.
type DeviceSessionStatus struct {
	DeviceTableID uint8
	DeviceCount   uint8
	Bits          []byte
}

func (DeviceSessionStatus) Type() EventType { return EventDeviceSessionStatus }

func decodeDeviceSessionStatus(data []byte) (DeviceSessionStatus, error) {
	if len(data) < 3 {
		return DeviceSessionStatus{}, ErrIncorrectDataSize
	}
	return DeviceSessionStatus{
		DeviceTableID: data[1],
		DeviceCount:   data[2],
		Bits:          data[3:],
	}, nil
}

// RelayRecord is a single relay device's status (spec §6.1
// "RelayStateType2").
type RelayRecord struct {
	DeviceID      uint8
	Status        uint8
	StartPosition uint8
	AmpDraw       uint16
	DTC           uint16
}

func (r RelayRecord) On() bool { return r.Status&0x01 != 0 }

// RelayBasicLatchingStatusType2 reports a single latching relay's state.
type RelayBasicLatchingStatusType2 struct {
	DeviceTableID uint8
	Record        RelayRecord
}

func (RelayBasicLatchingStatusType2) Type() EventType { return EventRelayBasicLatchingStatusType2 }

func decodeRelayBasicLatchingStatusType2(data []byte) (RelayBasicLatchingStatusType2, error) {
	if len(data) < 9 {
		return RelayBasicLatchingStatusType2{}, ErrIncorrectDataSize
	}
	amp, err := getUint16(data, 5)
	if err != nil {
		return RelayBasicLatchingStatusType2{}, err
	}
	dtc, err := getUint16(data, 7)
	if err != nil {
		return RelayBasicLatchingStatusType2{}, err
	}
	return RelayBasicLatchingStatusType2{
		DeviceTableID: data[1],
		Record: RelayRecord{
			DeviceID:      data[2],
			Status:        data[3],
			StartPosition: data[4],
			AmpDraw:       amp,
			DTC:           dtc,
		},
	}, nil
}

// RelayHBridgeMomentaryStatusType2 reports a single H-bridge momentary
// relay's state, using the same RelayStateType2 record layout as
// RelayBasicLatchingStatusType2 (spec §6.1).
type RelayHBridgeMomentaryStatusType2 struct {
	DeviceTableID uint8
	Record        RelayRecord
}

func (RelayHBridgeMomentaryStatusType2) Type() EventType {
	return EventRelayHBridgeMomentaryStatusType2
}

func decodeRelayHBridgeMomentaryStatusType2(data []byte) (RelayHBridgeMomentaryStatusType2, error) {
	if len(data) < 9 {
		return RelayHBridgeMomentaryStatusType2{}, ErrIncorrectDataSize
	}
	amp, err := getUint16(data, 5)
	if err != nil {
		return RelayHBridgeMomentaryStatusType2{}, err
	}
	dtc, err := getUint16(data, 7)
	if err != nil {
		return RelayHBridgeMomentaryStatusType2{}, err
	}
	return RelayHBridgeMomentaryStatusType2{
		DeviceTableID: data[1],
		Record: RelayRecord{
			DeviceID:      data[2],
			Status:        data[3],
			StartPosition: data[4],
			AmpDraw:       amp,
			DTC:           dtc,
		},
	}, nil
}

// TankSensorStatus reports fill percentage per tank device.
type TankSensorStatus struct {
	DeviceTableID uint8
	Readings      []TankReading
}

// TankReading is one (device_id, percentage) pair within a TankSensorStatus
// event.
type TankReading struct {
	DeviceID   uint8
	Percentage uint8
}

func (TankSensorStatus) Type() EventType { return EventTankSensorStatus }

func decodeTankSensorStatus(data []byte) (TankSensorStatus, error) {
	if len(data) < 2 {
		return TankSensorStatus{}, ErrIncorrectDataSize
	}
	rest := data[2:]
	var readings []TankReading
	for len(rest) >= 2 {
		readings = append(readings, TankReading{DeviceID: rest[0], Percentage: rest[1]})
		rest = rest[2:]
	}
	return TankSensorStatus{DeviceTableID: data[1], Readings: readings}, nil
}

// RealTimeClock reports the gateway's current clock.
type RealTimeClock struct {
	SecondsFromEpoch uint32
	TimeSinceStart   uint16
	Flags            uint8
}

func (RealTimeClock) Type() EventType { return EventRealTimeClock }

func decodeRealTimeClock(data []byte) (RealTimeClock, error) {
	if len(data) < 9 {
		return RealTimeClock{}, ErrIncorrectDataSize
	}
	sec, err := getUint32(data, 1)
	if err != nil {
		return RealTimeClock{}, err
	}
	since, err := getUint16(data, 5)
	if err != nil {
		return RealTimeClock{}, err
	}
	return RealTimeClock{SecondsFromEpoch: sec, TimeSinceStart: since, Flags: data[8]}, nil
}

// DecodeEvent dispatches on the leading type byte and decodes a full event
// frame (the COBS/CRC-stripped payload).
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < 1 {
		return nil, ErrIncorrectDataSize
	}
	t := EventType(data[0])
	switch t {
	case EventGatewayInformation:
		return decodeGatewayInformation(data)
	case EventCommandResponse:
		resp, err := DecodeCommandResponse(data)
		if err != nil {
			return nil, err
		}
		return CommandResponseEvent{resp}, nil
	case EventDeviceOnlineStatus:
		return decodeDeviceOnlineStatus(data)
	case EventDeviceSessionStatus:
		return decodeDeviceSessionStatus(data)
	case EventRelayBasicLatchingStatusType2:
		return decodeRelayBasicLatchingStatusType2(data)
	case EventRelayHBridgeMomentaryStatusType2:
		return decodeRelayHBridgeMomentaryStatusType2(data)
	case EventRvStatus:
		return decodeRvStatus(data)
	case EventTankSensorStatus:
		return decodeTankSensorStatus(data)
	case EventRealTimeClock:
		return decodeRealTimeClock(data)
	default:
		return RawEvent{EventType: t, Body: data}, nil
	}
}

// CommandResponseEvent adapts CommandResponse (which has no Type method, to
// avoid coupling it to the Event interface when used standalone from
// internal/mux) into an Event for dispatch purposes.
type CommandResponseEvent struct {
	CommandResponse
}

func (CommandResponseEvent) Type() EventType { return EventCommandResponse }

// Response returns the wrapped CommandResponse for dispatch to the command
// multiplexer.
func (e CommandResponseEvent) Response() CommandResponse { return e.CommandResponse }
