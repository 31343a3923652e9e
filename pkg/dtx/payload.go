package dtx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PayloadFlags values, per the payload header's flags field.
const (
	FlagsEmpty       uint32 = 0x00 // ack
	FlagsInvocation  uint32 = 0x02 // argv + selector, both archived
	FlagsResult      uint32 = 0x03 // single archived object result
	FlagsResultAlt   uint32 = 0x04
	FlagsNullReply   uint32 = 0x05 // empty, "null reply"

	// compressionMarkerMask covers the nibble the transmitter sets to say
	// a message's flags were chosen under compression; the real flag value
	// is the low byte once the marker is present.
	compressionMarkerMask uint32 = 0xFF000
)

// payloadHeaderSize is the fixed size of the payload header that precedes
// a message's argument vector and selector bytes.
const payloadHeaderSize = 16

// ErrUnknownArgTag is returned when an argument vector triple's tagB is
// not one of the known value kinds.
var ErrUnknownArgTag = errors.New("dtx: unknown argument tag")

// payload is the decoded shape of a DTX message body: flags plus the raw
// argument-vector and selector byte slices (still archived; callers
// decode them through pkg/nskeyed as needed).
type payload struct {
	Flags    uint32
	Argv     []byte
	Selector []byte
}

func encodePayload(flags uint32, argv, selector []byte) []byte {
	total := len(argv) + len(selector)
	buf := make([]byte, payloadHeaderSize+total)
	binary.LittleEndian.PutUint32(buf[0:4], flags&0xFFFF)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(argv)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(total))
	copy(buf[payloadHeaderSize:], argv)
	copy(buf[payloadHeaderSize+len(argv):], selector)
	return buf
}

func decodePayload(raw []byte) (payload, error) {
	if len(raw) < payloadHeaderSize {
		return payload{}, fmt.Errorf("dtx: payload shorter than header (%d bytes)", len(raw))
	}
	flags := binary.LittleEndian.Uint32(raw[0:4])
	auxLength := binary.LittleEndian.Uint32(raw[4:8])
	totalLength := binary.LittleEndian.Uint64(raw[8:16])

	body := raw[payloadHeaderSize:]
	if uint64(len(body)) < totalLength {
		return payload{}, fmt.Errorf("dtx: payload body shorter than declared totalLength")
	}
	if uint64(auxLength) > totalLength {
		return payload{}, fmt.Errorf("dtx: payload auxLength exceeds totalLength")
	}

	return payload{
		Flags:    effectiveFlags(flags),
		Argv:     body[:auxLength],
		Selector: body[auxLength:totalLength],
	}, nil
}

// effectiveFlags reduces a compressed flags value to its low byte, matching
// the real wire behavior: a marker bit set anywhere in 0xFF000 means the
// low byte, not the full value, is the flag a caller should switch on.
func effectiveFlags(flags uint32) uint32 {
	if flags&compressionMarkerMask != 0 {
		return flags & 0xFF
	}
	return flags
}
