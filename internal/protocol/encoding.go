package protocol

import "encoding/binary"

// All multi-byte integers on the wire are big-endian.

func getUint8(data []byte, offset int) (uint8, error) {
	if offset+1 > len(data) {
		return 0, ErrIncorrectDataSize
	}
	return data[offset], nil
}

func getUint16(data []byte, offset int) (uint16, error) {
	if offset+2 > len(data) {
		return 0, ErrIncorrectDataSize
	}
	return binary.BigEndian.Uint16(data[offset:]), nil
}

func getUint32(data []byte, offset int) (uint32, error) {
	if offset+4 > len(data) {
		return 0, ErrIncorrectDataSize
	}
	return binary.BigEndian.Uint32(data[offset:]), nil
}

func putUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return append(buf, b...)
}

func putUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}

// FixedU16_8 is an unsigned 16-bit integer with an implicit 8-bit fractional
// part, used by RvStatus.battery_voltage / external_temperature.
type FixedU16_8 uint16

// Float64 returns the value as a floating point number of whole units.
func (f FixedU16_8) Float64() float64 {
	return float64(f) / 256.0
}
