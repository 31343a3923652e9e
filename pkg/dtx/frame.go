package dtx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
)

// Magic is the 32-bit value every DTX frame header begins with.
const Magic = 0x1F3D5B79

// HeaderSize is the fixed size of a DTX frame header.
const HeaderSize = 32

// ErrBadMagic indicates a frame header did not start with Magic.
var ErrBadMagic = errors.New("dtx: bad frame magic")

// ErrBadHeaderLength indicates a frame header's declared length was not HeaderSize.
var ErrBadHeaderLength = errors.New("dtx: bad frame header length")

// frameHeader is the 32-byte wire header preceding every frame's payload.
type frameHeader struct {
	Magic             uint32
	HeaderLength      uint32
	FragmentID        uint16
	FragmentCount     uint16
	PayloadLength     uint32
	MessageID         uint32
	ConversationIndex uint32
	ChannelCode       int32
	ExpectsReply      uint32
}

func writeFrameHeader(w io.Writer, h frameHeader) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], HeaderSize)
	binary.LittleEndian.PutUint16(buf[8:10], h.FragmentID)
	binary.LittleEndian.PutUint16(buf[10:12], h.FragmentCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.PayloadLength)
	binary.LittleEndian.PutUint32(buf[16:20], h.MessageID)
	binary.LittleEndian.PutUint32(buf[20:24], h.ConversationIndex)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.ChannelCode))
	binary.LittleEndian.PutUint32(buf[28:32], h.ExpectsReply)
	_, err := w.Write(buf[:])
	return err
}

func readFrameHeader(r io.Reader) (frameHeader, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return frameHeader{}, err
	}
	h := frameHeader{
		Magic:             binary.LittleEndian.Uint32(buf[0:4]),
		HeaderLength:      binary.LittleEndian.Uint32(buf[4:8]),
		FragmentID:        binary.LittleEndian.Uint16(buf[8:10]),
		FragmentCount:     binary.LittleEndian.Uint16(buf[10:12]),
		PayloadLength:     binary.LittleEndian.Uint32(buf[12:16]),
		MessageID:         binary.LittleEndian.Uint32(buf[16:20]),
		ConversationIndex: binary.LittleEndian.Uint32(buf[20:24]),
		ChannelCode:       int32(binary.LittleEndian.Uint32(buf[24:28])),
		ExpectsReply:      binary.LittleEndian.Uint32(buf[28:32]),
	}
	if h.Magic != Magic {
		return h, withKind(ioserr.KindDtxDecode, fmt.Errorf("%w: got %#x", ErrBadMagic, h.Magic))
	}
	if h.HeaderLength != HeaderSize {
		return h, withKind(ioserr.KindDtxDecode, fmt.Errorf("%w: got %d", ErrBadHeaderLength, h.HeaderLength))
	}
	return h, nil
}

// writeMessage fragments and writes one logical DTX message. Fragment 0
// always announces with no payload bytes of its own; the payload is split
// across the remaining fragments in chunks of at most maxFragmentPayload.
func writeMessage(w io.Writer, messageID uint32, conversationIndex uint32, channelCode int32, expectsReply bool, payload []byte) error {
	const maxFragmentPayload = 64 * 1024

	fragmentCount := 1 + (len(payload)+maxFragmentPayload-1)/maxFragmentPayload
	if len(payload) == 0 {
		fragmentCount = 2
	}

	var expects uint32
	if expectsReply {
		expects = 1
	}

	if err := writeFrameHeader(w, frameHeader{
		FragmentID:        0,
		FragmentCount:     uint16(fragmentCount),
		PayloadLength:     0,
		MessageID:         messageID,
		ConversationIndex: conversationIndex,
		ChannelCode:       channelCode,
		ExpectsReply:      expects,
	}); err != nil {
		return fmt.Errorf("dtx: write announce frame: %w", err)
	}

	remaining := payload
	for fragID := 1; fragID < fragmentCount; fragID++ {
		chunk := remaining
		if len(chunk) > maxFragmentPayload {
			chunk = chunk[:maxFragmentPayload]
		}
		if err := writeFrameHeader(w, frameHeader{
			FragmentID:        uint16(fragID),
			FragmentCount:     uint16(fragmentCount),
			PayloadLength:     uint32(len(chunk)),
			MessageID:         messageID,
			ConversationIndex: conversationIndex,
			ChannelCode:       channelCode,
			ExpectsReply:      expects,
		}); err != nil {
			return fmt.Errorf("dtx: write fragment %d: %w", fragID, err)
		}
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return fmt.Errorf("dtx: write fragment %d payload: %w", fragID, err)
			}
		}
		remaining = remaining[len(chunk):]
	}
	return nil
}

// incomingMessage is one fully reassembled logical message read off the wire.
type incomingMessage struct {
	MessageID         uint32
	ConversationIndex uint32
	ChannelCode       int32
	ExpectsReply      bool
	Payload           []byte
}

// messageReader reassembles frames sharing a messageId into complete
// messages, one at a time, honoring fragmentCount announced on fragment 0.
type messageReader struct {
	r io.Reader

	pending map[uint32]*assembly
}

type assembly struct {
	conversationIndex uint32
	channelCode       int32
	expectsReply      bool
	fragmentCount     int
	chunks            [][]byte
	got               int
}

func newMessageReader(r io.Reader) *messageReader {
	return &messageReader{r: r, pending: make(map[uint32]*assembly)}
}

// readMessage blocks until one full logical message has been reassembled,
// reading and buffering other messages' fragments as needed in the
// meantime (DTX connections are not required to deliver one message's
// fragments contiguously, though in practice they are).
func (mr *messageReader) readMessage() (incomingMessage, error) {
	for {
		h, err := readFrameHeader(mr.r)
		if err != nil {
			return incomingMessage{}, err
		}

		if h.FragmentCount <= 1 {
			payload := make([]byte, h.PayloadLength)
			if h.PayloadLength > 0 {
				if _, err := io.ReadFull(mr.r, payload); err != nil {
					return incomingMessage{}, fmt.Errorf("dtx: read unfragmented payload: %w", err)
				}
			}
			return incomingMessage{
				MessageID:         h.MessageID,
				ConversationIndex: h.ConversationIndex,
				ChannelCode:       h.ChannelCode,
				ExpectsReply:      h.ExpectsReply != 0,
				Payload:           payload,
			}, nil
		}

		a, ok := mr.pending[h.MessageID]
		if !ok {
			a = &assembly{
				conversationIndex: h.ConversationIndex,
				channelCode:       h.ChannelCode,
				expectsReply:      h.ExpectsReply != 0,
				fragmentCount:     int(h.FragmentCount),
				chunks:            make([][]byte, h.FragmentCount),
			}
			mr.pending[h.MessageID] = a
		}

		if h.FragmentID == 0 {
			// Announce frame: no payload bytes, already accounted for.
			continue
		}

		chunk := make([]byte, h.PayloadLength)
		if h.PayloadLength > 0 {
			if _, err := io.ReadFull(mr.r, chunk); err != nil {
				return incomingMessage{}, fmt.Errorf("dtx: read fragment %d: %w", h.FragmentID, err)
			}
		}
		if int(h.FragmentID) < len(a.chunks) && a.chunks[h.FragmentID] == nil {
			a.chunks[h.FragmentID] = chunk
			a.got++
		}

		if a.got == a.fragmentCount-1 {
			delete(mr.pending, h.MessageID)
			total := 0
			for _, c := range a.chunks[1:] {
				total += len(c)
			}
			payload := make([]byte, 0, total)
			for _, c := range a.chunks[1:] {
				payload = append(payload, c...)
			}
			return incomingMessage{
				MessageID:         h.MessageID,
				ConversationIndex: a.conversationIndex,
				ChannelCode:       a.channelCode,
				ExpectsReply:      a.expectsReply,
				Payload:           payload,
			}, nil
		}
	}
}
