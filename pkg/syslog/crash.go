package syslog

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/afc"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
)

// CrashReportService is the lockdown service exposing an AFC conduit
// rooted at the device's crash report directory.
const CrashReportService = "com.apple.crashreportcopymobile"

// CrashReports harvests crash logs over com.apple.crashreportcopymobile.
type CrashReports struct {
	afc *afc.Client
}

// OpenCrashReports starts CrashReportService and wraps it as an AFC
// client rooted at the crash log directory.
func OpenCrashReports(ctx context.Context, session *lockdown.Session) (*CrashReports, error) {
	conn, _, err := session.OpenService(ctx, CrashReportService)
	if err != nil {
		return nil, fmt.Errorf("syslog: open crash report service: %w", err)
	}
	client, err := afc.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &CrashReports{afc: client}, nil
}

// Close closes the underlying AFC conduit.
func (c *CrashReports) Close() error {
	return c.afc.Close()
}

// List returns the names of every crash report at the top level of the
// crash log directory.
func (c *CrashReports) List() ([]string, error) {
	names, err := c.afc.ListDir("/")
	if err != nil {
		return nil, fmt.Errorf("syslog: list crash reports: %w", err)
	}
	return names, nil
}

// Pull returns the raw bytes of the named crash report.
func (c *CrashReports) Pull(name string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.afc.Pull("/"+name, &buf); err != nil {
		return nil, fmt.Errorf("syslog: pull crash report %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Clear removes the named crash report, or every report at the top level
// of the directory when name is empty.
func (c *CrashReports) Clear(name string) error {
	if name == "" {
		names, err := c.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			if err := c.afc.RmTree("/" + n); err != nil {
				return fmt.Errorf("syslog: remove crash report %q: %w", n, err)
			}
		}
		return nil
	}
	if err := c.afc.RmTree("/" + name); err != nil {
		return fmt.Errorf("syslog: remove crash report %q: %w", name, err)
	}
	return nil
}
