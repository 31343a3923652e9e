package muxsocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tmq-project/tmq-ios/pkg/ioslog"
)

// Framing constants.
const (
	// InitialHeaderSize is the size of the mux-daemon handshake header.
	InitialHeaderSize = 16

	// ProtocolVersion is the only mux-daemon protocol version this client speaks.
	ProtocolVersion = 1

	// MessageTypePlist identifies a property-list payload in the initial frame.
	MessageTypePlist = 8

	// ContinuationLengthSize is the size of the length prefix used by every
	// frame after the initial mux-daemon handshake.
	ContinuationLengthSize = 4

	// DefaultMaxMessageSize bounds a single frame's payload (16 MiB).
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// MaxLogFrameDataSize caps how much frame data is copied into a log event.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message body.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the frame was truncated mid-read.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrBadProtocolVersion indicates the initial frame's version field was unexpected.
	ErrBadProtocolVersion = errors.New("unexpected mux protocol version")
)

// InitialFrame is the 16-byte little-endian header that precedes the body
// of the single handshake request/reply exchanged with the mux daemon.
type InitialFrame struct {
	TotalLength     uint32 // includes the 16-byte header itself
	ProtocolVersion uint32
	MessageType     uint32
	Tag             uint32
}

// WriteInitialFrame writes the 16-byte mux handshake header followed by body.
func WriteInitialFrame(w io.Writer, tag uint32, body []byte) error {
	if len(body) == 0 {
		return ErrMessageEmpty
	}

	var hdr [InitialHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(InitialHeaderSize+len(body)))
	binary.LittleEndian.PutUint32(hdr[4:8], ProtocolVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], MessageTypePlist)
	binary.LittleEndian.PutUint32(hdr[12:16], tag)

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write initial header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write initial body: %w", err)
	}
	return nil
}

// ReadInitialFrame reads the 16-byte mux handshake header and its body.
func ReadInitialFrame(r io.Reader) (InitialFrame, []byte, error) {
	var hdr [InitialHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return InitialFrame{}, nil, ErrFrameTruncated
		}
		return InitialFrame{}, nil, err
	}

	frame := InitialFrame{
		TotalLength:     binary.LittleEndian.Uint32(hdr[0:4]),
		ProtocolVersion: binary.LittleEndian.Uint32(hdr[4:8]),
		MessageType:     binary.LittleEndian.Uint32(hdr[8:12]),
		Tag:             binary.LittleEndian.Uint32(hdr[12:16]),
	}
	if frame.ProtocolVersion != ProtocolVersion {
		return frame, nil, fmt.Errorf("%w: got %d", ErrBadProtocolVersion, frame.ProtocolVersion)
	}
	if frame.TotalLength < InitialHeaderSize {
		return frame, nil, ErrFrameTruncated
	}

	bodyLen := frame.TotalLength - InitialHeaderSize
	if bodyLen == 0 {
		return frame, nil, ErrMessageEmpty
	}
	if bodyLen > DefaultMaxMessageSize {
		return frame, nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, bodyLen, DefaultMaxMessageSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return frame, nil, ErrFrameTruncated
		}
		return frame, nil, err
	}
	return frame, body, nil
}

// FrameWriter writes continuation frames: a 4-byte big-endian length
// followed by the payload. Every message after the initial mux handshake -
// lockdown, installation proxy, the image mounter's control messages -
// uses this shape.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	// Logging support (optional)
	logger ioslog.Logger
	connID string
}

// NewFrameWriter creates a new continuation-frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w, maxMessageSize: DefaultMaxMessageSize}
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, maxMessageSize: maxSize}
}

// SetLogger configures logging for this writer. Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger ioslog.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes a length-prefixed frame. Safe for concurrent callers.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var lengthBuf [ContinuationLengthSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := fw.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Log(fw.makeFrameEvent(data, ioslog.DirectionOut))
	}
	return nil
}

func (fw *FrameWriter) makeFrameEvent(data []byte, direction ioslog.Direction) ioslog.Event {
	frameData, truncated := data, false
	if len(data) > MaxLogFrameDataSize {
		frameData, truncated = data[:MaxLogFrameDataSize], true
	}
	return ioslog.Event{
		Timestamp:    time.Now(),
		ConnectionID: fw.connID,
		Direction:    direction,
		Layer:        ioslog.LayerMux,
		Category:     ioslog.CategoryMessage,
		Frame: &ioslog.FrameEvent{
			Size:      ContinuationLengthSize + len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// FrameReader reads continuation frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [ContinuationLengthSize]byte

	logger ioslog.Logger
	connID string
}

// NewFrameReader creates a new continuation-frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, maxMessageSize: DefaultMaxMessageSize}
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, maxMessageSize: maxSize}
}

// SetLogger configures logging for this reader. Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger ioslog.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// SetMaxMessageSize updates the maximum acceptable frame size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// ReadFrame reads one length-prefixed frame and returns its payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if fr.logger != nil {
		fr.logger.Log(fr.makeFrameEvent(payload, ioslog.DirectionIn))
	}
	return payload, nil
}

func (fr *FrameReader) makeFrameEvent(data []byte, direction ioslog.Direction) ioslog.Event {
	frameData, truncated := data, false
	if len(data) > MaxLogFrameDataSize {
		frameData, truncated = data[:MaxLogFrameDataSize], true
	}
	return ioslog.Event{
		Timestamp:    time.Now(),
		ConnectionID: fr.connID,
		Direction:    direction,
		Layer:        ioslog.LayerMux,
		Category:     ioslog.CategoryMessage,
		Frame: &ioslog.FrameEvent{
			Size:      ContinuationLengthSize + len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// Framer combines a FrameReader and FrameWriter over one socket.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer builds a Framer for bidirectional continuation-frame traffic.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw),
		FrameWriter: NewFrameWriter(rw),
	}
}

// NewFramerWithMaxSize creates a framer with a custom max frame size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures logging for both the reader and writer halves.
func (f *Framer) SetLogger(logger ioslog.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}
