package lockdown

import (
	"context"
	"fmt"
	"net"

	"github.com/tmq-project/tmq-ios/pkg/hostcert"
	"github.com/tmq-project/tmq-ios/pkg/ioslog"
	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"github.com/tmq-project/tmq-ios/pkg/usbmux"
	"howett.net/plist"
)

// Label identifies this client to lockdown requests.
const Label = usbmux.ProgName

// ImageMounter is the narrow interface lockdown needs to recover from a
// failed StartService ("InvalidService"): mount the developer disk image
// and let the caller retry once. Implemented by pkg/imagemounter; injected
// rather than imported directly so lockdown does not depend on a package
// that itself depends on lockdown to open its control connection.
type ImageMounter interface {
	EnsureMounted(ctx context.Context) error
}

// Session is an in-progress authenticated connection to a device's
// lockdown service.
type Session struct {
	mux      *usbmux.Client
	device   usbmux.DeviceRecord
	store    hostcert.Store
	systemBUID string
	logger   ioslog.Logger

	conn      net.Conn
	framer    *muxsocket.Framer
	sessionID string
	ssl       bool

	// Mounter recovers from InvalidService by mounting the developer disk
	// image. May be left nil, in which case StartService never retries.
	Mounter ImageMounter
}

// Dial opens a mux-pipe to the device's lockdown port, verifies it is
// talking to lockdown, and returns an unauthenticated Session. Call
// StartSession before using any other service.
func Dial(ctx context.Context, mux *usbmux.Client, device usbmux.DeviceRecord, store hostcert.Store, systemBUID string) (*Session, error) {
	conn, err := mux.Connect(ctx, device.DeviceID, Port)
	if err != nil {
		return nil, fmt.Errorf("lockdown: open pipe: %w", err)
	}

	s := &Session{
		mux:        mux,
		device:     device,
		store:      store,
		systemBUID: systemBUID,
		conn:       conn,
		framer:     muxsocket.NewFramer(conn),
	}

	reply, err := s.request(map[string]any{"Request": "QueryType"})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if typ, _ := reply["Type"].(string); typ != "com.apple.mobile.lockdown" {
		conn.Close()
		return nil, fmt.Errorf("lockdown: unexpected service type %q", typ)
	}
	return s, nil
}

// SetLogger attaches a protocol logger to this session's framer.
func (s *Session) SetLogger(logger ioslog.Logger, connID string) {
	s.logger = logger
	s.framer.SetLogger(logger, connID)
}

func (s *Session) request(req map[string]any) (map[string]any, error) {
	req["Label"] = Label
	body, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("lockdown: encode request: %w", err)
	}
	if err := s.framer.WriteFrame(body); err != nil {
		return nil, fmt.Errorf("lockdown: write request: %w", err)
	}
	replyBody, err := s.framer.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("lockdown: read reply: %w", err)
	}
	var reply map[string]any
	if _, err := plist.Unmarshal(replyBody, &reply); err != nil {
		return nil, fmt.Errorf("lockdown: decode reply: %w", err)
	}
	return reply, nil
}

// anyToInt converts the numeric types the plist decoder produces
// (int64 for signed XML integers, uint64 for unsigned binary ones) into a
// plain int64, returning 0 for anything else.
func anyToInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func serviceErr(requestName string, reply map[string]any) error {
	code, ok := reply["Error"].(string)
	if !ok {
		return nil
	}
	return &ServiceError{Request: requestName, Code: code}
}

// GetValue reads a device property. An empty domain queries the default
// lockdown domain.
func (s *Session) GetValue(domain, key string) (any, error) {
	req := map[string]any{"Request": "GetValue"}
	if domain != "" {
		req["Domain"] = domain
	}
	if key != "" {
		req["Key"] = key
	}
	reply, err := s.request(req)
	if err != nil {
		return nil, err
	}
	if err := serviceErr("GetValue", reply); err != nil {
		return nil, err
	}
	return reply["Value"], nil
}

// SetValue writes a device property.
func (s *Session) SetValue(domain, key string, value any) error {
	req := map[string]any{"Request": "SetValue", "Value": value}
	if domain != "" {
		req["Domain"] = domain
	}
	if key != "" {
		req["Key"] = key
	}
	reply, err := s.request(req)
	if err != nil {
		return err
	}
	return serviceErr("SetValue", reply)
}

// StartSession negotiates (or reuses) a pair record and authenticates the
// connection. On InvalidHostID it deletes the pair record, re-pairs, and
// retries exactly once.
func (s *Session) StartSession(ctx context.Context) error {
	record, err := s.store.GetPairRecord(s.device.UDID)
	if err != nil {
		record, err = s.pair(ctx)
		if err != nil {
			return fmt.Errorf("lockdown: pair: %w", err)
		}
	}

	reply, err := s.startSessionRequest(record)
	if err != nil {
		return err
	}
	if code, _ := reply["Error"].(string); code == errInvalidHostID {
		if err := s.store.DeletePairRecord(s.device.UDID); err != nil {
			return fmt.Errorf("lockdown: delete stale pair record: %w", err)
		}
		record, err = s.pair(ctx)
		if err != nil {
			return fmt.Errorf("lockdown: re-pair after InvalidHostID: %w", err)
		}
		reply, err = s.startSessionRequest(record)
		if err != nil {
			return err
		}
	}
	if err := serviceErr("StartSession", reply); err != nil {
		return err
	}

	s.sessionID, _ = reply["SessionID"].(string)
	if enableSSL, _ := reply["EnableSessionSSL"].(bool); enableSSL {
		if err := s.upgradeFull(record); err != nil {
			return fmt.Errorf("lockdown: session TLS upgrade: %w", err)
		}
		s.ssl = true
	}
	return nil
}

func (s *Session) startSessionRequest(record *hostcert.PairRecord) (map[string]any, error) {
	return s.request(map[string]any{
		"Request":   "StartSession",
		"HostID":    record.HostID,
		"SystemBUID": record.SystemBUID,
	})
}

func (s *Session) upgradeFull(record *hostcert.PairRecord) error {
	tlsCert, err := record.TLSCertificate()
	if err != nil {
		return err
	}
	deviceCert, err := record.DeviceCert()
	if err != nil {
		return err
	}
	tlsCfg, err := muxsocket.NewUpgradeTLSConfig(&muxsocket.PairTLSConfig{
		HostCertificate:   tlsCert,
		DeviceCertificate: deviceCert,
	})
	if err != nil {
		return err
	}
	upgraded, err := muxsocket.Upgrade(s.conn, tlsCfg, muxsocket.UpgradeFull)
	if err != nil {
		return err
	}
	s.conn = upgraded
	s.framer = muxsocket.NewFramer(upgraded)
	if s.logger != nil {
		s.framer.SetLogger(s.logger, s.device.UDID)
	}
	return nil
}

// StopSession ends the authenticated session. The connection itself must
// still be closed by the caller via Close.
func (s *Session) StopSession() error {
	if s.sessionID == "" {
		return nil
	}
	_, err := s.request(map[string]any{"Request": "StopSession", "SessionID": s.sessionID})
	s.sessionID = ""
	return err
}

// Close releases the underlying mux-pipe.
func (s *Session) Close() error {
	return s.conn.Close()
}

// StartService asks lockdown to start a named device service and returns
// where to reach it. On InvalidService, if a Mounter is configured, it
// mounts the developer disk image and retries exactly once.
func (s *Session) StartService(name string) (ServiceEndpoint, error) {
	return s.startService(name, true)
}

func (s *Session) startService(name string, allowMountRetry bool) (ServiceEndpoint, error) {
	reply, err := s.request(map[string]any{"Request": "StartService", "Service": name})
	if err != nil {
		return ServiceEndpoint{}, err
	}
	if code, _ := reply["Error"].(string); code != "" {
		if code == errInvalidService && allowMountRetry && s.Mounter != nil {
			if mountErr := s.Mounter.EnsureMounted(context.Background()); mountErr != nil {
				return ServiceEndpoint{}, fmt.Errorf("lockdown: mount developer image: %w", mountErr)
			}
			return s.startService(name, false)
		}
		return ServiceEndpoint{}, &ServiceError{Request: "StartService", Code: code}
	}

	enableSSL, _ := reply["EnableServiceSSL"].(bool)
	return ServiceEndpoint{
		Name:             name,
		Port:             uint16(anyToInt(reply["Port"])),
		EnableServiceSSL: enableSSL,
		SSLDialOnly:      isDialOnlyService(name),
	}, nil
}

// OpenService starts name and opens a fresh mux-pipe to it, performing the
// TLS upgrade StartService's reply calls for (full for most services,
// dial-only for the four DTX-bearing ones).
func (s *Session) OpenService(ctx context.Context, name string) (net.Conn, ServiceEndpoint, error) {
	endpoint, err := s.StartService(name)
	if err != nil {
		return nil, ServiceEndpoint{}, err
	}

	conn, err := s.mux.Connect(ctx, s.device.DeviceID, endpoint.Port)
	if err != nil {
		return nil, endpoint, fmt.Errorf("lockdown: open service pipe: %w", err)
	}
	if !endpoint.EnableServiceSSL {
		return conn, endpoint, nil
	}

	record, err := s.store.GetPairRecord(s.device.UDID)
	if err != nil {
		conn.Close()
		return nil, endpoint, fmt.Errorf("lockdown: load pair record for service TLS: %w", err)
	}
	tlsCert, err := record.TLSCertificate()
	if err != nil {
		conn.Close()
		return nil, endpoint, err
	}
	deviceCert, err := record.DeviceCert()
	if err != nil {
		conn.Close()
		return nil, endpoint, err
	}
	tlsCfg, err := muxsocket.NewUpgradeTLSConfig(&muxsocket.PairTLSConfig{
		HostCertificate:   tlsCert,
		DeviceCertificate: deviceCert,
	})
	if err != nil {
		conn.Close()
		return nil, endpoint, err
	}

	mode := muxsocket.UpgradeFull
	if endpoint.SSLDialOnly {
		mode = muxsocket.UpgradeDialOnly
	}
	upgraded, err := muxsocket.Upgrade(conn, tlsCfg, mode)
	if err != nil {
		conn.Close()
		return nil, endpoint, fmt.Errorf("lockdown: service TLS upgrade: %w", err)
	}
	return upgraded, endpoint, nil
}
