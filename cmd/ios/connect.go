package main

import (
	"context"
	"fmt"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/hostcert"
	"github.com/tmq-project/tmq-ios/pkg/imagemounter"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
	"github.com/tmq-project/tmq-ios/pkg/pairstore"
	"github.com/tmq-project/tmq-ios/pkg/usbmux"
)

// device resolves which attached device a subcommand should target:
// cfg.UDID if set, or the sole attached device if there is exactly one.
func device(ctx context.Context, mux *usbmux.Client, cfg *iosconfig.Config) (usbmux.DeviceRecord, error) {
	devices, err := mux.ListDevices(ctx)
	if err != nil {
		return usbmux.DeviceRecord{}, fmt.Errorf("list devices: %w", err)
	}
	if cfg.UDID != "" {
		for _, d := range devices {
			if d.UDID == cfg.UDID {
				return d, nil
			}
		}
		return usbmux.DeviceRecord{}, fmt.Errorf("no attached device with UDID %q", cfg.UDID)
	}
	switch len(devices) {
	case 0:
		return usbmux.DeviceRecord{}, fmt.Errorf("no attached devices")
	case 1:
		return devices[0], nil
	default:
		return usbmux.DeviceRecord{}, fmt.Errorf("%d devices attached, pass -udid to select one", len(devices))
	}
}

// session opens usbmuxd, resolves the target device, and returns an
// authenticated lockdown session with an image mounter wired in for
// automatic developer-disk-image recovery. Callers must StopSession and
// Close when done.
func session(ctx context.Context, cfg *iosconfig.Config) (*usbmux.Client, *lockdown.Session, error) {
	mux := newMuxClient(cfg)

	dev, err := device(ctx, mux, cfg)
	if err != nil {
		return nil, nil, err
	}

	buid, err := mux.ReadBUID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read system BUID: %w", err)
	}

	store := hostcert.NewFileStore(cfg.PairDir())
	sess, err := lockdown.Dial(ctx, mux, dev, store, buid)
	if err != nil {
		return nil, nil, fmt.Errorf("dial lockdown: %w", err)
	}

	if err := sess.StartSession(ctx); err != nil {
		sess.Close()
		return nil, nil, fmt.Errorf("start session: %w", err)
	}

	version, _ := productVersion(sess)
	if conn, _, err := sess.OpenService(ctx, imagemounter.ServiceName); err == nil {
		cache := pairstore.NewImageCache(cfg.ImageCacheDir())
		sess.Mounter = imagemounter.New(conn, version, cache, nil)
	}

	return mux, sess, nil
}

func productVersion(sess *lockdown.Session) (string, error) {
	v, err := sess.GetValue("", "ProductVersion")
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func newMuxClient(cfg *iosconfig.Config) *usbmux.Client {
	if cfg.Usbmux == "" {
		return usbmux.New()
	}
	network, address := splitEndpoint(cfg.Usbmux)
	return usbmux.NewWithEndpoint(network, address)
}

func splitEndpoint(s string) (network, address string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return "tcp", s
}
