package dtx

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// ErrConnectionClosed is delivered to every outstanding waiter, and
// returned from any further call, once a Connection is closed. Its Kind
// (per ioserr.KindOf) is ioserr.KindCancelled.
var ErrConnectionClosed error = &kindErr{kind: ioserr.KindCancelled, err: errors.New("dtx: connection closed")}

// metaChannelCode is the pre-allocated channel every connection starts
// with, used to allocate further named channels.
const metaChannelCode int32 = 0

// NotificationHandler receives a server-initiated message: its selector
// and decoded argument vector.
type NotificationHandler func(selector string, args []Arg)

// Connection is one DTX message bus over an already-open, already
// TLS-upgraded-if-needed net.Conn. It owns exactly one reader goroutine;
// calls may be made concurrently from any goroutine.
type Connection struct {
	conn net.Conn

	mu              sync.Mutex
	nextMessageID   uint32
	nextChannelCode int32
	pending         map[uint32]chan incomingMessage
	channels        map[int32]*Channel // keyed by the code this side allocated
	dispatch        map[string]NotificationHandler
	closed          bool
	closeErr        error
	doneCh          chan struct{}
}

// Channel is a numbered logical stream within a Connection.
type Channel struct {
	conn *Connection
	code int32
	name string
}

// Dial wraps conn as a DTX connection: starts the reader goroutine and
// performs the capability handshake on the meta channel.
func Dial(conn net.Conn) (*Connection, error) {
	c := &Connection{
		conn:            conn,
		nextMessageID:   1,
		nextChannelCode: 1,
		pending:         make(map[uint32]chan incomingMessage),
		channels:        make(map[int32]*Channel),
		dispatch:        make(map[string]NotificationHandler),
		doneCh:          make(chan struct{}),
	}
	go c.readLoop()

	meta := &Channel{conn: c, code: metaChannelCode, name: "meta"}
	capabilities := nskeyed.Dict{
		{Key: nskeyed.String("DTXConnection"), Value: nskeyed.Int(1)},
		{Key: nskeyed.String("DTXBlockCompression"), Value: nskeyed.Int(2)},
	}
	if err := meta.send("_notifyOfPublishedCapabilities:", []Arg{ArgObject{Value: capabilities}}); err != nil {
		c.Close()
		return nil, fmt.Errorf("dtx: capability handshake: %w", err)
	}
	return c, nil
}

// OnNotification registers a handler for server-initiated messages whose
// selector matches name. Two pseudo-selectors are recognized: "notification"
// for every expectsReply=0 message regardless of selector, and "finished"
// invoked once when the connection closes.
func (c *Connection) OnNotification(name string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch[name] = h
}

// RequestChannel allocates a new named channel via
// _requestChannelWithCode:identifier: on the meta channel. identifier must
// not be requested twice on the same connection.
func (c *Connection) RequestChannel(identifier string) (*Channel, error) {
	c.mu.Lock()
	code := c.nextChannelCode
	c.nextChannelCode++
	c.mu.Unlock()

	meta := &Channel{conn: c, code: metaChannelCode, name: "meta"}
	_, err := meta.call("_requestChannelWithCode:identifier:", []Arg{
		ArgU32(uint32(code)),
		ArgObject{Value: nskeyed.String(identifier)},
	})
	if err != nil {
		return nil, fmt.Errorf("dtx: request channel %q: %w", identifier, err)
	}

	ch := &Channel{conn: c, code: code, name: identifier}
	c.mu.Lock()
	c.channels[code] = ch
	c.mu.Unlock()
	return ch, nil
}

// Close unblocks every outstanding waiter with ErrConnectionClosed, fires
// the "finished" pseudo-notification, and closes the underlying socket.
// Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeErr = ErrConnectionClosed
	pending := c.pending
	c.pending = make(map[uint32]chan incomingMessage)
	finished := c.dispatch["finished"]
	close(c.doneCh)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if finished != nil {
		finished("finished", nil)
	}
	return c.conn.Close()
}

func (c *Connection) nextMessage() uint32 {
	return atomic.AddUint32(&c.nextMessageID, 1) - 1
}

// call sends an invocation on ch expecting a reply and blocks for it.
func (ch *Channel) call(selector string, args []Arg) (nskeyed.Value, error) {
	c := ch.conn
	messageID := c.nextMessage()

	waiter := make(chan incomingMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[messageID] = waiter
	c.mu.Unlock()

	if err := ch.writeInvocation(messageID, true, selector, args); err != nil {
		c.mu.Lock()
		delete(c.pending, messageID)
		c.mu.Unlock()
		return nil, err
	}

	msg, ok := <-waiter
	if !ok {
		return nil, ErrConnectionClosed
	}

	p, err := decodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	switch p.Flags {
	case FlagsEmpty, FlagsNullReply:
		return nskeyed.Null{}, nil
	case FlagsResult, FlagsResultAlt:
		return nskeyed.DecodeBytes(p.Selector)
	default:
		return nil, fmt.Errorf("dtx: unexpected reply flags %#x", p.Flags)
	}
}

// Call is the exported form of call for higher-level packages built on dtx.
func (ch *Channel) Call(selector string, args ...Arg) (nskeyed.Value, error) {
	return ch.call(selector, args)
}

// send sends a notification (expectsReply=0) on ch; there is no reply to wait for.
func (ch *Channel) send(selector string, args []Arg) error {
	messageID := ch.conn.nextMessage()
	return ch.writeInvocation(messageID, false, selector, args)
}

// Send is the exported form of send.
func (ch *Channel) Send(selector string, args ...Arg) error {
	return ch.send(selector, args)
}

func (ch *Channel) writeInvocation(messageID uint32, expectsReply bool, selector string, args []Arg) error {
	argv, err := EncodeArgv(args)
	if err != nil {
		return fmt.Errorf("dtx: encode argv for %q: %w", selector, err)
	}
	selectorBytes, err := nskeyed.EncodeBytes(nskeyed.String(selector))
	if err != nil {
		return fmt.Errorf("dtx: encode selector %q: %w", selector, err)
	}
	body := encodePayload(FlagsInvocation, argv, selectorBytes)

	c := ch.conn
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.mu.Unlock()

	return writeMessage(c.conn, messageID, 0, ch.code, expectsReply, body)
}

func (c *Connection) readLoop() {
	mr := newMessageReader(c.conn)
	for {
		msg, err := mr.readMessage()
		if err != nil {
			c.Close()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Connection) handleMessage(msg incomingMessage) {
	if msg.ConversationIndex == 1 {
		c.mu.Lock()
		waiter, ok := c.pending[msg.MessageID]
		if ok {
			delete(c.pending, msg.MessageID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- msg
			close(waiter)
			return
		}
	}

	p, err := decodePayload(msg.Payload)
	if err != nil {
		return
	}

	var selector string
	var args []Arg
	if p.Flags == FlagsInvocation {
		if sv, err := nskeyed.DecodeBytes(p.Selector); err == nil {
			if s, ok := sv.(nskeyed.String); ok {
				selector = string(s)
			}
		}
		args, _ = DecodeArgv(p.Argv)
	}

	c.mu.Lock()
	handler, ok := c.dispatch[selector]
	if !ok && !msg.ExpectsReply {
		handler, ok = c.dispatch["notification"]
	}
	c.mu.Unlock()

	if ok && handler != nil {
		handler(selector, args)
		return
	}

	if msg.ExpectsReply {
		ack := encodePayload(FlagsEmpty, nil, nil)
		writeMessage(c.conn, msg.MessageID, 1, msg.ChannelCode, false, ack)
	}
}
