package afc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"howett.net/plist"
)

// Client speaks the AFC protocol over an already-open service pipe (the
// connection a lockdown.Session.OpenService call to "com.apple.afc" or one
// of its house-arrest siblings returns).
type Client struct {
	conn net.Conn
	tag  uint64

	mu sync.Mutex
}

// packet is one parsed AFC reply: its status (SUCCESS unless the
// operation was OpStatus), the header-block "data", and any trailing
// "payload" bytes (e.g. directory listing or file contents).
type packet struct {
	Status  Status
	Data    []byte
	Payload []byte
}

// New wraps conn as an AFC client. Some iOS versions prepend an
// unsolicited property-list status frame before the first real AFC frame;
// New sniffs for and consumes it.
func New(conn net.Conn) (*Client, error) {
	c := &Client{conn: conn, tag: ^uint64(0)}
	if err := c.consumeLeadingStatusPlist(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) consumeLeadingStatusPlist() error {
	var peek [4]byte
	if _, err := io.ReadFull(c.conn, peek[:]); err != nil {
		return fmt.Errorf("afc: read leading bytes: %w", err)
	}

	if string(peek[:]) == Magic[:4] {
		// No status prefix: these 4 bytes are the start of magic. Replay
		// them by prepending a MultiReader-backed conn wrapper.
		c.conn = &prefixedConn{prefix: peek[:], Conn: c.conn}
		return nil
	}

	length := binary.BigEndian.Uint32(peek[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return fmt.Errorf("afc: read leading status plist: %w", err)
	}
	var status map[string]any
	if _, err := plist.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("afc: decode leading status plist: %w", err)
	}
	if errMsg, ok := status["Error"].(string); ok && errMsg != "" {
		return fmt.Errorf("afc: device reported error before handshake: %s", errMsg)
	}
	return nil
}

// prefixedConn replays a few already-read bytes before resuming reads
// from the wrapped connection.
type prefixedConn struct {
	prefix []byte
	net.Conn
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

func (c *Client) nextTag() uint64 {
	return atomic.AddUint64(&c.tag, 1)
}

func (c *Client) writeFrame(op Operation, tag uint64, data, payload []byte) error {
	thisLen := uint64(headerSize + len(data))
	totalLen := thisLen + uint64(len(payload))

	hdr := make([]byte, headerSize)
	copy(hdr[0:8], Magic)
	binary.LittleEndian.PutUint64(hdr[8:16], totalLen)
	binary.LittleEndian.PutUint64(hdr[16:24], thisLen)
	binary.LittleEndian.PutUint64(hdr[24:32], tag)
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(op))

	if _, err := c.conn.Write(hdr); err != nil {
		return fmt.Errorf("afc: write header: %w", err)
	}
	if len(data) > 0 {
		if _, err := c.conn.Write(data); err != nil {
			return fmt.Errorf("afc: write data: %w", err)
		}
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return fmt.Errorf("afc: write payload: %w", err)
		}
	}
	return nil
}

func (c *Client) recv() (packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return packet{}, fmt.Errorf("afc: read header: %w", err)
	}
	if string(hdr[0:8]) != Magic {
		return packet{}, fmt.Errorf("afc: bad frame magic %q", hdr[0:8])
	}
	totalLen := binary.LittleEndian.Uint64(hdr[8:16])
	thisLen := binary.LittleEndian.Uint64(hdr[16:24])
	op := Operation(binary.LittleEndian.Uint64(hdr[32:40]))

	if totalLen < headerSize || thisLen < headerSize {
		return packet{}, fmt.Errorf("afc: malformed frame lengths")
	}
	body := make([]byte, totalLen-headerSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return packet{}, fmt.Errorf("afc: read body: %w", err)
		}
	}

	dataLen := thisLen - headerSize
	data := body[:dataLen]
	payload := body[dataLen:]

	status := StatusSuccess
	if op == OpStatus {
		if len(data) < 8 {
			return packet{}, fmt.Errorf("afc: truncated status reply")
		}
		status = Status(binary.LittleEndian.Uint64(data[:8]))
	}
	return packet{Status: status, Data: data, Payload: payload}, nil
}

// request sends op and blocks for its reply. AFC has no out-of-order
// replies in practice (one request in flight per connection at a time is
// the contract this client keeps), so request serializes send+recv under
// the same lock a concurrent caller would otherwise need.
func (c *Client) request(op Operation, data, payload []byte) (packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := c.nextTag()
	if err := c.writeFrame(op, tag, data, payload); err != nil {
		return packet{}, err
	}
	return c.recv()
}

// Close closes the underlying service pipe.
func (c *Client) Close() error {
	return c.conn.Close()
}

func padName(name string) []byte {
	return append([]byte(name), 0)
}
