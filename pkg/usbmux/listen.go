package usbmux

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

// EventStream delivers an infinite sequence of Attached/Detached/Paired
// events for as long as the caller keeps it open. The underlying
// connection is kept alive by the caller; closing the stream ends it.
type EventStream struct {
	conn   net.Conn
	reader *muxsocket.FrameReader
}

// Listen opens a connection to the daemon and registers for device watch
// events. The returned stream must be closed by the caller.
func (c *Client) Listen(ctx context.Context) (*EventStream, error) {
	reply, conn, err := c.sendRecv(ctx, baseRequest("Listen"))
	if err != nil {
		return nil, err
	}
	if err := checkReply(reply); err != nil {
		conn.Close()
		return nil, err
	}

	// Listen holds the socket open indefinitely; the initial dial deadline
	// (if any) must not apply to the rest of the stream's lifetime.
	_ = conn.SetDeadline(time.Time{})

	reader := muxsocket.NewFrameReader(conn)
	if c.logger != nil {
		reader.SetLogger(c.logger, "usbmux-listen")
	}
	return &EventStream{conn: conn, reader: reader}, nil
}

// Next blocks until the next event arrives, or returns an error if the
// connection closes or the frame is malformed.
func (s *EventStream) Next() (Event, error) {
	body, err := s.reader.ReadFrame()
	if err != nil {
		return Event{}, fmt.Errorf("usbmux: listen stream: %w", err)
	}

	var msg map[string]any
	if _, err := plist.Unmarshal(body, &msg); err != nil {
		return Event{}, fmt.Errorf("usbmux: decode event: %w", err)
	}

	msgType, _ := msg["MessageType"].(string)
	deviceID, _ := toInt(msg["DeviceID"])
	event := Event{Device: DeviceRecord{DeviceID: int(deviceID)}}

	switch msgType {
	case "Attached":
		event.Kind = EventAttached
		if props, ok := msg["Properties"].(map[string]any); ok {
			event.Device.UDID = stringOr(props["SerialNumber"])
			if event.Device.UDID == "" {
				event.Device.UDID = stringOr(props["UDID"])
			}
			event.Device.ConnectionType = parseConnectionType(stringOr(props["ConnectionType"]))
		}
	case "Detached":
		event.Kind = EventDetached
	case "Paired":
		event.Kind = EventPaired
	default:
		return Event{}, fmt.Errorf("usbmux: unknown listen event %q", msgType)
	}
	return event, nil
}

// Close terminates the stream by closing its underlying connection.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
