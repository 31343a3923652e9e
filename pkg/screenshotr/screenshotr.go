// Package screenshotr implements the client half of the
// com.apple.mobile.screenshotr lockdown service: a single versioned
// handshake followed by any number of screenshot requests, each replying
// with a PNG (older devices: TIFF) image.
package screenshotr

import (
	"fmt"
	"net"

	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

// ServiceName is the lockdown service this client speaks to.
const ServiceName = "com.apple.mobile.screenshotr"

var supportedVersion = []any{uint64(1), uint64(0)}

// Client drives the screenshotr protocol over an already-open lockdown
// service pipe.
type Client struct {
	conn   net.Conn
	framer *muxsocket.Framer
}

// New performs the version handshake and returns a ready Client.
func New(conn net.Conn) (*Client, error) {
	c := &Client{conn: conn, framer: muxsocket.NewFramer(conn)}

	reply, err := c.recvArray()
	if err != nil {
		return nil, fmt.Errorf("screenshotr: read banner: %w", err)
	}
	if len(reply) < 2 {
		return nil, fmt.Errorf("screenshotr: malformed version banner")
	}

	if err := c.sendArray([]any{supportedVersion[0], supportedVersion[1]}); err != nil {
		return nil, fmt.Errorf("screenshotr: send version: %w", err)
	}

	ack, err := c.recvArray()
	if err != nil {
		return nil, fmt.Errorf("screenshotr: read version ack: %w", err)
	}
	if len(ack) == 0 {
		return nil, fmt.Errorf("screenshotr: empty version ack")
	}
	if s, ok := ack[0].(string); !ok || s != "DLMessageDeviceReady" {
		return nil, fmt.Errorf("screenshotr: unexpected version ack %v", ack)
	}
	return c, nil
}

// Close closes the underlying service pipe.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Take captures a screenshot and returns its raw image bytes (PNG on
// iOS >= 9, TIFF on earlier releases).
func (c *Client) Take() ([]byte, error) {
	if err := c.sendArray([]any{"DLMessageProcessMessage", map[string]any{
		"MessageType": "ScreenShotRequest",
	}}); err != nil {
		return nil, fmt.Errorf("screenshotr: send request: %w", err)
	}

	reply, err := c.recvArray()
	if err != nil {
		return nil, fmt.Errorf("screenshotr: read reply: %w", err)
	}
	if len(reply) < 2 {
		return nil, fmt.Errorf("screenshotr: malformed reply")
	}
	body, ok := reply[1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("screenshotr: reply missing body dictionary")
	}
	if errMsg, _ := body["ScreenShotError"].(string); errMsg != "" {
		return nil, fmt.Errorf("screenshotr: device reported error: %s", errMsg)
	}
	data, ok := body["ScreenShotData"].([]byte)
	if !ok {
		return nil, fmt.Errorf("screenshotr: reply missing ScreenShotData")
	}
	return data, nil
}

func (c *Client) sendArray(v []any) error {
	body, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(body)
}

func (c *Client) recvArray() ([]any, error) {
	body, err := c.framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	var v []any
	if _, err := plist.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("screenshotr: decode reply: %w", err)
	}
	return v, nil
}
