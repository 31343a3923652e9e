// Package iosconfig resolves the flags and environment variables shared
// across the ios command's subcommands: which usbmuxd to dial, where to
// keep persistent pairing/image-cache state, which device to target, and
// how verbosely to log.
package iosconfig

import (
	"flag"
	"os"
	"path/filepath"
)

// Config holds settings shared by every ios subcommand. Each subcommand
// registers these flags on its own flag.FlagSet via Register, then calls
// ResolveEnv after Parse to fill in anything left at its zero value from
// the environment.
type Config struct {
	// UDID selects a device when more than one is attached. Empty means
	// "the only attached device", and is an error if more than one is.
	UDID string

	// Usbmux is the usbmuxd endpoint, "unix:/path/to/socket" or
	// "tcp:host:port". Empty means the platform default.
	Usbmux string

	// StateDir holds pair records and cached developer disk images.
	StateDir string

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
}

// Register adds the shared flags to fs, defaulting each to its current
// value in c (so callers may pre-seed defaults before calling Register).
func Register(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.UDID, "udid", c.UDID, "target device UDID (default: the only attached device)")
	fs.StringVar(&c.Usbmux, "usbmux", c.Usbmux, "usbmuxd endpoint, e.g. unix:/var/run/usbmuxd or tcp:host:port")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "directory for pair records and cached developer disk images")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}

// ResolveEnv fills any field still at its zero value from the
// corresponding TMQ_* environment variable, then applies final defaults.
func ResolveEnv(c *Config) {
	if c.UDID == "" {
		c.UDID = os.Getenv("TMQ_DEVICE_UDID")
	}
	if c.Usbmux == "" {
		c.Usbmux = os.Getenv("TMQ_USBMUX")
	}
	if c.StateDir == "" {
		c.StateDir = os.Getenv("TMQ_STATE_DIR")
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("TMQ_LOG_LEVEL")
	}

	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.StateDir = filepath.Join(home, ".tmq-ios")
		} else {
			c.StateDir = ".tmq-ios"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// PairDir is where pair records are stored under StateDir.
func (c *Config) PairDir() string {
	return filepath.Join(c.StateDir, "pair-records")
}

// ImageCacheDir is where cached developer disk images are stored under
// StateDir.
func (c *Config) ImageCacheDir() string {
	return filepath.Join(c.StateDir, "images")
}
