// Package usbmux talks to the host-side device multiplexer daemon: it
// enumerates and watches attached devices, manages pair records, and turns
// a daemon connection into a raw byte pipe to a device-side TCP port.
package usbmux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tmq-project/tmq-ios/pkg/ioslog"
	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

// ProgName identifies this client to the daemon and to lockdown services.
const ProgName = "tmq-ios"

// ClientVersionString is sent on every request, matching the version string
// real daemons expect from libusbmuxd-based clients.
const ClientVersionString = "libusbmuxd 1.1.0"

// EnvEndpoint overrides the daemon endpoint. Accepts a UNIX socket path or
// a host:port TCP address.
const EnvEndpoint = "TMQ_USBMUX"

// DefaultUnixSocket is the POSIX daemon socket path.
const DefaultUnixSocket = "/var/run/usbmuxd"

// DefaultTCPAddress is the Windows daemon TCP address.
const DefaultTCPAddress = "127.0.0.1:27015"

// DefaultRequestTimeout bounds a single request/reply exchange.
const DefaultRequestTimeout = 10 * time.Second

var errEmptyReply = errors.New("usbmux: empty daemon reply")

// Client is a handle to the mux daemon. It is cheap to construct and holds
// no persistent connection: every operation in §4.2 opens a fresh socket.
type Client struct {
	network string
	address string
	tag     uint32
	logger  ioslog.Logger
}

// New builds a Client for the default or environment-overridden endpoint.
func New() *Client {
	network, address := defaultEndpoint()
	return &Client{network: network, address: address}
}

// NewWithEndpoint builds a Client for an explicit network ("unix" or
// "tcp") and address.
func NewWithEndpoint(network, address string) *Client {
	return &Client{network: network, address: address}
}

// SetLogger attaches a protocol logger used by every connection this
// client opens.
func (c *Client) SetLogger(logger ioslog.Logger) {
	c.logger = logger
}

func defaultEndpoint() (network, address string) {
	if override := os.Getenv(EnvEndpoint); override != "" {
		if _, _, err := net.SplitHostPort(override); err == nil {
			return "tcp", override
		}
		return "unix", override
	}
	if runtime.GOOS == "windows" {
		return "tcp", DefaultTCPAddress
	}
	return "unix", DefaultUnixSocket
}

func (c *Client) nextTag() uint32 {
	return atomic.AddUint32(&c.tag, 1)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("usbmux: dial %s %s: %w", c.network, c.address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}

// sendRecv opens a fresh connection, writes one initial-frame request, and
// reads exactly one initial-frame reply.
func (c *Client) sendRecv(ctx context.Context, req map[string]any) (map[string]any, net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	body, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("usbmux: encode request: %w", err)
	}

	tag := c.nextTag()
	if err := muxsocket.WriteInitialFrame(conn, tag, body); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("usbmux: write request: %w", err)
	}

	_, replyBody, err := muxsocket.ReadInitialFrame(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("usbmux: read reply: %w", err)
	}

	var reply map[string]any
	if _, err := plist.Unmarshal(replyBody, &reply); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("usbmux: decode reply: %w", err)
	}
	return reply, conn, nil
}

func checkReply(reply map[string]any) error {
	n, ok := reply["Number"]
	if !ok {
		return nil
	}
	code, ok := toInt(n)
	if !ok || code == 0 {
		return nil
	}
	return &MuxReplyError{Code: ReplyCode(code)}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func baseRequest(messageType string) map[string]any {
	return map[string]any{
		"MessageType":         messageType,
		"ClientVersionString": ClientVersionString,
		"ProgName":            ProgName,
		"kLibUSBMuxVersion":   int64(3),
	}
}

// ListDevices returns every attached device, deduplicated by UDID with a
// USB connection preferred over a Network one for the same device.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	reply, conn, err := c.sendRecv(ctx, baseRequest("ListDevices"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := checkReply(reply); err != nil {
		return nil, err
	}

	rawList, _ := reply["DeviceList"].([]any)
	byUDID := make(map[string]DeviceRecord, len(rawList))
	order := make([]string, 0, len(rawList))
	for _, rawItem := range rawList {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		props, ok := item["Properties"].(map[string]any)
		if !ok {
			continue
		}
		udid, _ := props["SerialNumber"].(string)
		if udid == "" {
			udid, _ = props["UDID"].(string)
		}
		if udid == "" {
			continue
		}
		deviceID, _ := toInt(props["DeviceID"])
		connType := parseConnectionType(stringOr(props["ConnectionType"]))

		existing, seen := byUDID[udid]
		if !seen {
			order = append(order, udid)
		} else if existing.ConnectionType == ConnectionUSB {
			continue // USB already recorded for this UDID, keep it
		}
		byUDID[udid] = DeviceRecord{UDID: udid, DeviceID: int(deviceID), ConnectionType: connType}
	}

	devices := make([]DeviceRecord, 0, len(order))
	for _, udid := range order {
		devices = append(devices, byUDID[udid])
	}
	return devices, nil
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

// ReadBUID returns the host-global SystemBUID the daemon was initialized
// with. It never changes for a given daemon installation.
func (c *Client) ReadBUID(ctx context.Context) (string, error) {
	reply, conn, err := c.sendRecv(ctx, baseRequest("ReadBUID"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := checkReply(reply); err != nil {
		return "", err
	}
	buid, _ := reply["BUID"].(string)
	if buid == "" {
		return "", errEmptyReply
	}
	return buid, nil
}

// ReadPairRecord fetches the raw binary-property-list pair record the
// daemon has stored for udid.
func (c *Client) ReadPairRecord(ctx context.Context, udid string) ([]byte, error) {
	req := baseRequest("ReadPairRecord")
	req["PairRecordID"] = udid
	reply, conn, err := c.sendRecv(ctx, req)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := checkReply(reply); err != nil {
		return nil, err
	}
	data, ok := reply["PairRecordData"].([]byte)
	if !ok {
		return nil, errEmptyReply
	}
	return data, nil
}

// SavePairRecord idempotently writes a pair record to the daemon's store.
func (c *Client) SavePairRecord(ctx context.Context, udid string, deviceID int, data []byte) error {
	req := baseRequest("SavePairRecord")
	req["PairRecordID"] = udid
	req["PairRecordData"] = data
	req["DeviceID"] = int64(deviceID)
	reply, conn, err := c.sendRecv(ctx, req)
	if err != nil {
		return err
	}
	defer conn.Close()
	return checkReply(reply)
}

// DeletePairRecord removes the daemon's stored pair record for udid.
func (c *Client) DeletePairRecord(ctx context.Context, udid string) error {
	req := baseRequest("DeletePairRecord")
	req["PairRecordID"] = udid
	reply, conn, err := c.sendRecv(ctx, req)
	if err != nil {
		return err
	}
	defer conn.Close()
	return checkReply(reply)
}

// Connect turns a fresh daemon connection into a raw byte pipe to the
// given device's TCP port. The returned net.Conn carries the framing of
// whatever service is listening on that port (lockdown, AFC, DTX); the mux
// framing stops applying the instant this call returns.
func (c *Client) Connect(ctx context.Context, deviceID int, port uint16) (net.Conn, error) {
	req := baseRequest("Connect")
	req["DeviceID"] = int64(deviceID)
	req["PortNumber"] = int64(swapPort(port))
	reply, conn, err := c.sendRecv(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkReply(reply); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// swapPort converts a host-order TCP port into the network-order integer
// the daemon's Connect request expects in its PortNumber field.
func swapPort(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}
