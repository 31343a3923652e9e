package dtx

import (
	"encoding/binary"
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// argvMagic identifies an argument-vector buffer.
const argvMagic = 0x01F0

// Argument tag-B kinds.
const (
	tagArchivedObject = 2
	tagU32            = 3
	tagU64            = 4
	tagU32Alt         = 5
	tagU64Alt         = 6
	tagA              = 10
)

// Arg is one element of a DTX argument vector: either a native 32/64-bit
// integer or an archived object (the common case — strings, dictionaries,
// arrays, and every other nskeyed.Value all travel as archived objects).
type Arg interface {
	isArg()
}

// ArgU32 is an inline unsigned 32-bit argument.
type ArgU32 uint32

func (ArgU32) isArg() {}

// ArgU64 is an inline unsigned 64-bit argument.
type ArgU64 uint64

func (ArgU64) isArg() {}

// ArgObject is an archived-object argument, encoded through pkg/nskeyed.
type ArgObject struct {
	Value nskeyed.Value
}

func (ArgObject) isArg() {}

// EncodeArgv serializes a list of arguments into the wire format DTX
// invocations carry: magic, body length, then (tagA=10, tagB, value)
// triples.
func EncodeArgv(args []Arg) ([]byte, error) {
	var body []byte
	for _, a := range args {
		switch v := a.(type) {
		case ArgU32:
			body = appendTriple(body, tagU32, u32Bytes(uint32(v)))
		case ArgU64:
			body = appendTriple(body, tagU64, u64Bytes(uint64(v)))
		case ArgObject:
			data, err := nskeyed.EncodeBytes(v.Value)
			if err != nil {
				return nil, fmt.Errorf("dtx: encode argv object: %w", err)
			}
			lengthPrefixed := make([]byte, 4+len(data))
			binary.LittleEndian.PutUint32(lengthPrefixed[:4], uint32(len(data)))
			copy(lengthPrefixed[4:], data)
			body = appendTriple(body, tagArchivedObject, lengthPrefixed)
		default:
			return nil, fmt.Errorf("dtx: unsupported argument kind %T", a)
		}
	}

	buf := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], argvMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:], body)
	return buf, nil
}

func appendTriple(body []byte, tagB uint32, value []byte) []byte {
	head := make([]byte, 8)
	binary.LittleEndian.PutUint32(head[0:4], tagA)
	binary.LittleEndian.PutUint32(head[4:8], tagB)
	body = append(body, head...)
	body = append(body, value...)
	return body
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeArgv parses an argument-vector buffer back into its Args.
func DecodeArgv(raw []byte) ([]Arg, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("dtx: argv buffer too short")
	}
	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != argvMagic {
		return nil, fmt.Errorf("dtx: bad argv magic %#x", magic)
	}
	bodyLength := binary.LittleEndian.Uint32(raw[4:8])
	body := raw[8:]
	if uint32(len(body)) < bodyLength {
		return nil, fmt.Errorf("dtx: argv body shorter than declared length")
	}
	body = body[:bodyLength]

	var args []Arg
	for len(body) > 0 {
		if len(body) < 8 {
			return nil, fmt.Errorf("dtx: truncated argv triple header")
		}
		gotTagA := binary.LittleEndian.Uint32(body[0:4])
		tagB := binary.LittleEndian.Uint32(body[4:8])
		body = body[8:]
		if gotTagA != tagA {
			return nil, fmt.Errorf("dtx: unexpected argv tagA %d", gotTagA)
		}

		switch tagB {
		case tagU32, tagU32Alt:
			if len(body) < 4 {
				return nil, fmt.Errorf("dtx: truncated u32 argument")
			}
			args = append(args, ArgU32(binary.LittleEndian.Uint32(body[:4])))
			body = body[4:]
		case tagU64, tagU64Alt:
			if len(body) < 8 {
				return nil, fmt.Errorf("dtx: truncated u64 argument")
			}
			args = append(args, ArgU64(binary.LittleEndian.Uint64(body[:8])))
			body = body[8:]
		case tagArchivedObject:
			if len(body) < 4 {
				return nil, fmt.Errorf("dtx: truncated archived-object length")
			}
			objLen := binary.LittleEndian.Uint32(body[:4])
			body = body[4:]
			if uint32(len(body)) < objLen {
				return nil, fmt.Errorf("dtx: truncated archived-object payload")
			}
			v, err := nskeyed.DecodeBytes(body[:objLen])
			if err != nil {
				return nil, fmt.Errorf("dtx: decode argv object: %w", err)
			}
			args = append(args, ArgObject{Value: v})
			body = body[objLen:]
		default:
			return nil, withKind(ioserr.KindDtxDecode, fmt.Errorf("%w: %d", ErrUnknownArgTag, tagB))
		}
	}
	return args, nil
}
