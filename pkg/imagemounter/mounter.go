package imagemounter

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"github.com/tmq-project/tmq-ios/pkg/pairstore"
	"howett.net/plist"
)

// ServiceName is the lockdown service this client speaks to.
const ServiceName = "com.apple.mobile.mobile_image_mounter"

// ImageType is the image kind parameter every request carries; developer
// disk images are the only kind this client mounts.
const ImageType = "Developer"

// MountError reports a device-side {Error, Detail} embedded in a reply.
type MountError struct {
	Command string
	Code    string
	Detail  string
}

func (e *MountError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("imagemounter: %s failed: %s: %s", e.Command, e.Code, e.Detail)
	}
	return fmt.Sprintf("imagemounter: %s failed: %s", e.Command, e.Code)
}

// Kind reports ioserr.KindDeviceLocked for the one device-side code that
// is a recoverable signal rather than a hard failure, ioserr.KindService
// for everything else.
func (e *MountError) Kind() ioserr.Kind {
	if e.Code == "DeviceLocked" {
		return ioserr.KindDeviceLocked
	}
	return ioserr.KindService
}

// alreadyMounted matches the device's phrasing when the developer disk
// image is already present; §4.8 requires this be treated as success.
func alreadyMounted(detail string) bool {
	return strings.Contains(detail, "already mounted")
}

// Fetcher retrieves a zipped developer disk image (DeveloperDiskImage.dmg
// + .signature, at the zip root or inside one versioned directory) for
// the given "major.minor" iOS version.
type Fetcher interface {
	Fetch(ctx context.Context, version string) (zipData []byte, err error)
}

// Mounter drives the mobile_image_mounter protocol over an already-open
// lockdown service pipe.
type Mounter struct {
	conn    net.Conn
	framer  *muxsocket.Framer
	cache   *pairstore.ImageCache
	fetcher Fetcher
	version string
}

// New wraps conn (the result of Session.OpenService(ServiceName)) as an
// image mounter for the device's iOS "major.minor" version, using cache to
// store/retrieve previously fetched images and fetcher to populate it on a
// miss.
func New(conn net.Conn, version string, cache *pairstore.ImageCache, fetcher Fetcher) *Mounter {
	return &Mounter{
		conn:    conn,
		framer:  muxsocket.NewFramer(conn),
		cache:   cache,
		fetcher: fetcher,
		version: version,
	}
}

// Close closes the underlying service pipe.
func (m *Mounter) Close() error {
	return m.conn.Close()
}

func (m *Mounter) request(req map[string]any) (map[string]any, error) {
	body, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("imagemounter: encode request: %w", err)
	}
	if err := m.framer.WriteFrame(body); err != nil {
		return nil, fmt.Errorf("imagemounter: write request: %w", err)
	}
	replyBody, err := m.framer.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("imagemounter: read reply: %w", err)
	}
	var reply map[string]any
	if _, err := plist.Unmarshal(replyBody, &reply); err != nil {
		return nil, fmt.Errorf("imagemounter: decode reply: %w", err)
	}
	return reply, nil
}

func mountErr(command string, reply map[string]any) error {
	code, _ := reply["Error"].(string)
	if code == "" {
		return nil
	}
	detail, _ := reply["DetailedError"].(string)
	return &MountError{Command: command, Code: code, Detail: detail}
}

// IsMounted reports whether the developer disk image is already present
// on the device.
func (m *Mounter) IsMounted() (bool, error) {
	reply, err := m.request(map[string]any{
		"Command":   "LookupImage",
		"ImageType": ImageType,
	})
	if err != nil {
		return false, err
	}
	if err := mountErr("LookupImage", reply); err != nil {
		return false, err
	}
	sig, _ := reply["ImageSignature"].([]any)
	return len(sig) > 0, nil
}

// EnsureMounted mounts the developer disk image unless it is already
// present, fetching and caching the image first if needed.
func (m *Mounter) EnsureMounted(ctx context.Context) error {
	mounted, err := m.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return nil
	}

	image, signature, err := m.loadImage(ctx)
	if err != nil {
		return fmt.Errorf("imagemounter: load image: %w", err)
	}
	return m.mount(image, signature)
}

func (m *Mounter) loadImage(ctx context.Context) (image, signature []byte, err error) {
	entry, err := m.cache.Get(m.version)
	if err == nil {
		image, imgErr := os.ReadFile(entry.ImagePath)
		signature, sigErr := os.ReadFile(entry.SignaturePath)
		if imgErr == nil && sigErr == nil {
			return image, signature, nil
		}
	}

	if m.fetcher == nil {
		return nil, nil, fmt.Errorf("imagemounter: no cached image for %s and no fetcher configured", m.version)
	}
	zipData, err := m.fetcher.Fetch(ctx, m.version)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch image: %w", err)
	}
	image, signature, err = unzipImage(zipData)
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.cache.Store(m.version, image, signature); err != nil {
		return nil, nil, fmt.Errorf("cache image: %w", err)
	}
	return image, signature, nil
}

// mount runs the three-step protocol: ReceiveBytes announces the image's
// size and signature; the device acks with ReceiveBytesAck; the raw image
// bytes are streamed on the same socket; MountImage then completes the
// mount using the fixed staging path for ImageType (stagingPath).
func (m *Mounter) mount(image, signature []byte) error {
	reply, err := m.request(map[string]any{
		"Command":        "ReceiveBytes",
		"ImageSize":      uint64(len(image)),
		"ImageType":      ImageType,
		"ImageSignature": signature,
	})
	if err != nil {
		return err
	}
	if err := mountErr("ReceiveBytes", reply); err != nil {
		return err
	}
	if status, _ := reply["Status"].(string); status != "ReceiveBytesAck" {
		return fmt.Errorf("imagemounter: unexpected ReceiveBytes reply status %q", status)
	}

	if _, err := m.conn.Write(image); err != nil {
		return fmt.Errorf("imagemounter: stream image bytes: %w", err)
	}

	replyBody, err := m.framer.ReadFrame()
	if err != nil {
		return fmt.Errorf("imagemounter: read upload ack: %w", err)
	}
	var uploadReply map[string]any
	if _, err := plist.Unmarshal(replyBody, &uploadReply); err != nil {
		return fmt.Errorf("imagemounter: decode upload ack: %w", err)
	}
	if err := mountErr("ReceiveBytes", uploadReply); err != nil {
		return err
	}

	mountReply, err := m.request(map[string]any{
		"Command":        "MountImage",
		"ImagePath":      stagingPath(ImageType),
		"ImageSignature": signature,
		"ImageType":      ImageType,
	})
	if err != nil {
		return err
	}
	if err := mountErr("MountImage", mountReply); err != nil {
		if alreadyMounted(err.(*MountError).Detail) {
			return nil
		}
		return err
	}
	return nil
}

func stagingPath(imageType string) string {
	return "/private/var/mobile/Media/PublicStaging/" + imageType + ".dmg"
}

func unzipImage(data []byte) (image, signature []byte, err error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open image zip: %w", err)
	}
	for _, f := range r.File {
		name := path.Base(f.Name)
		switch {
		case strings.EqualFold(name, "DeveloperDiskImage.dmg"):
			image, err = readZipEntry(f)
		case strings.EqualFold(name, "DeveloperDiskImage.dmg.signature"):
			signature, err = readZipEntry(f)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if image == nil || signature == nil {
		return nil, nil, fmt.Errorf("image zip missing DeveloperDiskImage.dmg or its signature")
	}
	return image, signature, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
