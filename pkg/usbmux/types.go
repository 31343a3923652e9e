package usbmux

import (
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
)

// ConnectionType distinguishes how the daemon reaches an attached device.
type ConnectionType uint8

const (
	// ConnectionUnknown is the zero value; never reported by the daemon.
	ConnectionUnknown ConnectionType = iota
	// ConnectionUSB is a device attached over USB.
	ConnectionUSB
	// ConnectionNetwork is a device attached over the local network.
	ConnectionNetwork
)

// String returns the connection type name.
func (c ConnectionType) String() string {
	switch c {
	case ConnectionUSB:
		return "USB"
	case ConnectionNetwork:
		return "Network"
	default:
		return "Unknown"
	}
}

func parseConnectionType(s string) ConnectionType {
	switch s {
	case "USB":
		return ConnectionUSB
	case "Network":
		return ConnectionNetwork
	default:
		return ConnectionUnknown
	}
}

// DeviceRecord identifies one attached device as reported by the daemon.
type DeviceRecord struct {
	// UDID is the 40-hex-character device identifier.
	UDID string
	// DeviceID is the daemon-assigned integer, valid for the lifetime of
	// this attachment. It must be re-resolved on every reconnect.
	DeviceID int
	// ConnectionType is how the device is currently reached.
	ConnectionType ConnectionType
}

// ReplyCode is the daemon's small status enum. Ref:
// libimobiledevice usbmuxd-proto.h.
type ReplyCode int

const (
	ReplyOK                ReplyCode = 0
	ReplyBadCommand        ReplyCode = 1
	ReplyBadDevice         ReplyCode = 2
	ReplyConnectionRefused ReplyCode = 3
	ReplyBadVersion        ReplyCode = 6
)

// String returns the reply code name.
func (c ReplyCode) String() string {
	switch c {
	case ReplyOK:
		return "OK"
	case ReplyBadCommand:
		return "BadCommand"
	case ReplyBadDevice:
		return "BadDevice"
	case ReplyConnectionRefused:
		return "ConnectionRefused"
	case ReplyBadVersion:
		return "BadVersion"
	default:
		return fmt.Sprintf("ReplyCode(%d)", int(c))
	}
}

// MuxReplyError reports a non-zero status code from the daemon.
type MuxReplyError struct {
	Code ReplyCode
}

func (e *MuxReplyError) Error() string {
	return fmt.Sprintf("usbmux: daemon replied %s", e.Code)
}

// Kind reports this as ioserr.KindMuxReply.
func (e *MuxReplyError) Kind() ioserr.Kind { return ioserr.KindMuxReply }

// EventKind distinguishes the three messages a Listen stream delivers.
type EventKind uint8

const (
	EventAttached EventKind = iota
	EventDetached
	EventPaired
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventAttached:
		return "Attached"
	case EventDetached:
		return "Detached"
	case EventPaired:
		return "Paired"
	default:
		return "Unknown"
	}
}

// Event is one entry from a Listen stream.
type Event struct {
	Kind   EventKind
	Device DeviceRecord
}
