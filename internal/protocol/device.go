package protocol

// ProtocolType identifies which bus a device record describes.
type ProtocolType uint8

const (
	ProtocolTypeUnknown ProtocolType = 0
	ProtocolTypeHost    ProtocolType = 1
	ProtocolTypeCAN     ProtocolType = 2
)

// DeviceKind discriminates the polymorphic Device/DeviceMetadata records.
type DeviceKind int

const (
	DeviceKindNone DeviceKind = iota
	DeviceKindBasic
	DeviceKindFull
)

// Device is the per-device info record returned by GetDevices. Full is
// populated when (protocol==Host && payload_size==10) || protocol==Can;
// otherwise only Basic fields are populated.
type Device struct {
	Kind            DeviceKind
	Protocol        ProtocolType
	PayloadSize     uint8
	DeviceType      uint8
	DeviceInstance  uint8
	ProductID       uint16
	MACAddress      [6]byte
}

// DecodeDevice decodes a single Device record from the front of data and
// reports how many bytes it consumed.
func DecodeDevice(data []byte) (Device, int, error) {
	if len(data) < 2 {
		return Device{}, 0, ErrInvalidPayload
	}
	protocol := ProtocolType(data[0])
	payloadSize := data[1]

	full := (protocol == ProtocolTypeHost && payloadSize == 10) || protocol == ProtocolTypeCAN
	if full {
		if len(data) < 12 {
			return Device{}, 0, ErrInvalidPayload
		}
		var mac [6]byte
		copy(mac[:], data[6:12])
		return Device{
			Kind:           DeviceKindFull,
			Protocol:       protocol,
			PayloadSize:    payloadSize,
			DeviceType:     data[2],
			DeviceInstance: data[3],
			ProductID:      uint16(data[4])<<8 | uint16(data[5]),
			MACAddress:     mac,
		}, 12, nil
	}

	return Device{
		Kind:        DeviceKindBasic,
		Protocol:    protocol,
		PayloadSize: payloadSize,
	}, 2, nil
}

// DecodeDevices greedily decodes repeated Device records until data is
// exhausted. A trailing partial record is tolerated (it is simply not
// included) so a short final read never fails the whole batch, but if the
// very first record fails to decode and nothing whole was parsed, the
// batch is rejected rather than silently treated as empty.
func DecodeDevices(data []byte) ([]Device, error) {
	var devices []Device
	for len(data) >= 2 {
		d, n, err := DecodeDevice(data)
		if err != nil {
			if len(devices) == 0 {
				return nil, ErrInvalidPayload
			}
			break
		}
		devices = append(devices, d)
		data = data[n:]
	}
	return devices, nil
}

// DeviceMetadata is the per-device metadata record returned by
// GetDevicesMetadata. Full is populated when (protocol==Host &&
// payload_size==17) || protocol==Can; otherwise only Basic fields are
// populated.
type DeviceMetadata struct {
	Kind                DeviceKind
	Protocol            ProtocolType
	PayloadSize         uint8
	FunctionName        uint16
	FunctionInstance    uint8
	DeviceCapabilities  uint8
	CANVersion          uint8
	CircuitNumber       uint32
	SoftwarePartNumber  string
}

// DecodeDeviceMetadata decodes a single DeviceMetadata record from the front
// of data and reports how many bytes it consumed.
func DecodeDeviceMetadata(data []byte) (DeviceMetadata, int, error) {
	if len(data) < 2 {
		return DeviceMetadata{}, 0, ErrInvalidPayload
	}
	protocol := ProtocolType(data[0])
	payloadSize := data[1]

	full := (protocol == ProtocolTypeHost && payloadSize == 17) || protocol == ProtocolTypeCAN
	if full {
		if len(data) < 19 {
			return DeviceMetadata{}, 0, ErrInvalidPayload
		}
		return DeviceMetadata{
			Kind:               DeviceKindFull,
			Protocol:           protocol,
			PayloadSize:        payloadSize,
			FunctionName:       uint16(data[2])<<8 | uint16(data[3]),
			FunctionInstance:   data[4],
			DeviceCapabilities: data[5],
			CANVersion:         data[6],
			CircuitNumber:      uint32(data[7])<<24 | uint32(data[8])<<16 | uint32(data[9])<<8 | uint32(data[10]),
			SoftwarePartNumber: string(data[11:19]),
		}, 19, nil
	}

	return DeviceMetadata{
		Kind:        DeviceKindBasic,
		Protocol:    protocol,
		PayloadSize: payloadSize,
	}, 2, nil
}

// DecodeDeviceMetadataList greedily decodes repeated DeviceMetadata records
// until data is exhausted, tolerating a trailing partial record, but
// rejecting the batch if the first record fails and nothing whole was
// parsed.
func DecodeDeviceMetadataList(data []byte) ([]DeviceMetadata, error) {
	var list []DeviceMetadata
	for len(data) >= 2 {
		m, n, err := DecodeDeviceMetadata(data)
		if err != nil {
			if len(list) == 0 {
				return nil, ErrInvalidPayload
			}
			break
		}
		list = append(list, m)
		data = data[n:]
	}
	return list, nil
}
