package frame

// crc8Table is a standard CRC-8/SMBUS table (poly 0x07, init 0x00, no
// reflection). The gateway's own CRC-8 polynomial isn't independently
// verifiable, so this is a documented stand-in; see DESIGN.md for the full
// rationale. Round-trip and bit-flip-detection properties hold for ANY
// table-driven CRC-8, which is all this package's framing contract requires.
var crc8Table = func() [256]byte {
	const poly = 0x07
	var table [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for b := 0; b < 8; b++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// calcCRC8 computes the CRC-8 checksum over data.
func calcCRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
