package instruments

import (
	"fmt"
	"sync"

	"github.com/tmq-project/tmq-ios/pkg/dtx"
)

// ServiceName and ServiceNameSecure are the lockdown services exposing the
// Instruments remote server; iOS >= 14 devices only expose the secure
// variant.
const (
	ServiceName       = "com.apple.instruments.remoteserver"
	ServiceNameSecure = "com.apple.instruments.remoteserver.DVTSecureSocketProxy"
)

// Channel identifiers named in the Instruments facade operation table.
const (
	ChannelProcessControl      = "com.apple.instruments.server.services.processcontrol"
	ChannelDeviceInfo          = "com.apple.instruments.server.services.deviceinfo"
	ChannelAppListing          = "com.apple.instruments.server.services.device.applictionListing"
	ChannelGraphicsOpenGL      = "com.apple.instruments.server.services.graphics.opengl"
	ChannelSysmontap           = "com.apple.instruments.server.services.sysmontap"
	ChannelNetworking          = "com.apple.instruments.server.services.networking"
	ChannelMobileNotifications = "com.apple.instruments.server.services.mobilenotifications"
	ChannelEnergy              = "com.apple.xcode.debug-gauge-data-providers.Energy"
)

// Client caches one dtx.Channel per identifier it has requested, over a
// single DTX connection to the Instruments remote server.
type Client struct {
	conn *dtx.Connection

	mu       sync.Mutex
	channels map[string]*dtx.Channel
}

// New wraps an already-dialed DTX connection as an Instruments client.
func New(conn *dtx.Connection) *Client {
	return &Client{conn: conn, channels: make(map[string]*dtx.Channel)}
}

// Close closes the underlying DTX connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) channel(identifier string) (*dtx.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[identifier]; ok {
		return ch, nil
	}
	ch, err := c.conn.RequestChannel(identifier)
	if err != nil {
		return nil, fmt.Errorf("instruments: request channel %q: %w", identifier, err)
	}
	c.channels[identifier] = ch
	return ch, nil
}

// OnNotification subscribes to server-initiated messages on the
// underlying connection; see pkg/dtx for the notification/finished
// pseudo-keys.
func (c *Client) OnNotification(selector string, h dtx.NotificationHandler) {
	c.conn.OnNotification(selector, h)
}
