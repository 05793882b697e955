package protocol

// CommandResponse is the decoded form of a CommandResponse event (spec §3
// "Response", §6.1). A single outbound command produces zero or more
// intermediate responses followed by exactly one terminal ("complete")
// response; the command multiplexer (internal/mux) is responsible for
// assembling the stream, this type only decodes one frame of it.
type CommandResponse struct {
	ClientCommandID uint16
	Success         bool
	Complete        bool
	// Body is everything after the status byte (offset 4 onward), left
	// for command-specific interpretation (e.g. registry/sync.go decodes
	// GetDevices/GetDevicesMetadata bodies).
	Body []byte
}

// DecodeCommandResponse decodes a CommandResponse event payload (the full
// event body, including the leading event-type byte at offset 0).
func DecodeCommandResponse(data []byte) (CommandResponse, error) {
	if len(data) < 4 {
		return CommandResponse{}, ErrIncorrectDataSize
	}
	ccid, err := getUint16(data, 1)
	if err != nil {
		return CommandResponse{}, err
	}
	status := data[3]
	return CommandResponse{
		ClientCommandID: ccid,
		Success:         status&0x01 == 0x01,
		Complete:        status&0x80 == 0x80,
		Body:            data[4:],
	}, nil
}

// GetDevicesCompletion is the terminal-response payload carried by a
// SuccessComplete GetDevices/GetDevicesMetadata response: a table CRC and
// the authoritative device count for the page just synchronized.
type GetDevicesCompletion struct {
	CRC         uint32
	DeviceCount uint8
}

// DecodeGetDevicesCompletion decodes the CRC+count trailer of a
// SuccessComplete GetDevices or GetDevicesMetadata response body (the body
// as returned in CommandResponse.Body, i.e. relative offsets shifted by -4
// from the wire: crc at body[0:4], count at body[4]).
func DecodeGetDevicesCompletion(body []byte) (GetDevicesCompletion, error) {
	if len(body) < 5 {
		return GetDevicesCompletion{}, ErrIncorrectDataSize
	}
	crc, err := getUint32(body, 0)
	if err != nil {
		return GetDevicesCompletion{}, err
	}
	return GetDevicesCompletion{CRC: crc, DeviceCount: body[4]}, nil
}

// GetDevicesBatch is a non-terminal Success response body: a page header
// plus the repeated Device records that follow it.
type GetDevicesBatch struct {
	DeviceTableID uint8
	StartDeviceID uint8
	DeviceCount   uint8
	Devices       []Device
}

// DecodeGetDevicesBatch decodes a Success (non-complete) GetDevices response
// body (body[0]=device_table_id, body[1]=start_device_id, body[2]=device_count,
// body[3:]=repeated Device records).
func DecodeGetDevicesBatch(body []byte) (GetDevicesBatch, error) {
	if len(body) < 3 {
		return GetDevicesBatch{}, ErrIncorrectDataSize
	}
	devices, err := DecodeDevices(body[3:])
	if err != nil {
		return GetDevicesBatch{}, err
	}
	return GetDevicesBatch{
		DeviceTableID: body[0],
		StartDeviceID: body[1],
		DeviceCount:   body[2],
		Devices:       devices,
	}, nil
}

// GetDevicesMetadataBatch mirrors GetDevicesBatch for the metadata command.
type GetDevicesMetadataBatch struct {
	DeviceTableID uint8
	StartDeviceID uint8
	DeviceCount   uint8
	Devices       []DeviceMetadata
}

// DecodeGetDevicesMetadataBatch decodes a Success (non-complete)
// GetDevicesMetadata response body.
func DecodeGetDevicesMetadataBatch(body []byte) (GetDevicesMetadataBatch, error) {
	if len(body) < 3 {
		return GetDevicesMetadataBatch{}, ErrIncorrectDataSize
	}
	devices, err := DecodeDeviceMetadataList(body[3:])
	if err != nil {
		return GetDevicesMetadataBatch{}, err
	}
	return GetDevicesMetadataBatch{
		DeviceTableID: body[0],
		StartDeviceID: body[1],
		DeviceCount:   body[2],
		Devices:       devices,
	}, nil
}
