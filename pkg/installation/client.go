package installation

import (
	"fmt"
	"net"

	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

// ServiceName is the lockdown service this client speaks to.
const ServiceName = "com.apple.mobile.installation_proxy"

// InstallError reports a device-side {Error, ErrorDescription} embedded
// in an install/uninstall/lookup/browse reply.
type InstallError struct {
	Command     string
	Code        string
	Description string
}

func (e *InstallError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("installation: %s failed: %s: %s", e.Command, e.Code, e.Description)
	}
	return fmt.Sprintf("installation: %s failed: %s", e.Command, e.Code)
}

// Client speaks the installation_proxy framed property-list protocol over
// an already-open lockdown service pipe.
type Client struct {
	framer *muxsocket.Framer
	conn   net.Conn
}

// New wraps conn (the result of Session.OpenService(ServiceName)) as an
// installation_proxy client.
func New(conn net.Conn) *Client {
	return &Client{framer: muxsocket.NewFramer(conn), conn: conn}
}

// Close closes the underlying service pipe.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(req map[string]any) error {
	body, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("installation: encode request: %w", err)
	}
	return c.framer.WriteFrame(body)
}

func (c *Client) recv() (map[string]any, error) {
	body, err := c.framer.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("installation: read reply: %w", err)
	}
	var reply map[string]any
	if _, err := plist.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("installation: decode reply: %w", err)
	}
	return reply, nil
}

func installErr(command string, reply map[string]any) error {
	code, ok := reply["Error"].(string)
	if !ok || code == "" {
		return nil
	}
	desc, _ := reply["ErrorDescription"].(string)
	return &InstallError{Command: command, Code: code, Description: desc}
}

func percentOf(reply map[string]any) int {
	switch v := reply["PercentComplete"].(type) {
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

// Install streams an ipa-derived package already staged on the device at
// packagePath (via AFC PutFile to the package staging area) into bundleID.
// progress may be nil.
func (c *Client) Install(bundleID, packagePath string, progress ProgressFunc) error {
	if err := c.send(map[string]any{
		"Command":      "Install",
		"PackagePath":  packagePath,
		"ClientOptions": map[string]any{"CFBundleIdentifier": bundleID},
	}); err != nil {
		return err
	}
	return c.streamProgress("Install", progress)
}

// Uninstall removes bundleID from the device.
func (c *Client) Uninstall(bundleID string, progress ProgressFunc) error {
	if err := c.send(map[string]any{
		"Command":              "Uninstall",
		"ApplicationIdentifier": bundleID,
	}); err != nil {
		return err
	}
	return c.streamProgress("Uninstall", progress)
}

func (c *Client) streamProgress(command string, progress ProgressFunc) error {
	for {
		reply, err := c.recv()
		if err != nil {
			return err
		}
		if err := installErr(command, reply); err != nil {
			return err
		}
		status, _ := reply["Status"].(string)
		if status == "Complete" {
			return nil
		}
		if progress != nil {
			progress(status, percentOf(reply))
		}
	}
}

// Lookup returns the installed application record for bundleID, or an
// InstallError if it is not found.
func (c *Client) Lookup(bundleID string) (InstalledApplication, error) {
	if err := c.send(map[string]any{
		"Command":       "Lookup",
		"ClientOptions": map[string]any{"BundleIDs": []string{bundleID}},
	}); err != nil {
		return InstalledApplication{}, err
	}
	reply, err := c.recv()
	if err != nil {
		return InstalledApplication{}, err
	}
	if err := installErr("Lookup", reply); err != nil {
		return InstalledApplication{}, err
	}
	results, _ := reply["LookupResult"].(map[string]any)
	raw, ok := results[bundleID].(map[string]any)
	if !ok {
		return InstalledApplication{}, &InstallError{Command: "Lookup", Code: "NotFound", Description: bundleID}
	}
	return appFromDict(raw), nil
}

// Browse lists installed applications, optionally filtered by appType
// ("User" or "System"; empty means both).
func (c *Client) Browse(appType string) ([]InstalledApplication, error) {
	options := map[string]any{}
	if appType != "" {
		options["ApplicationType"] = appType
	}
	if err := c.send(map[string]any{
		"Command":       "Browse",
		"ClientOptions": options,
	}); err != nil {
		return nil, err
	}

	var apps []InstalledApplication
	for {
		reply, err := c.recv()
		if err != nil {
			return nil, err
		}
		if err := installErr("Browse", reply); err != nil {
			return nil, err
		}
		status, _ := reply["Status"].(string)
		if status == "Complete" {
			return apps, nil
		}
		list, _ := reply["CurrentList"].([]any)
		for _, item := range list {
			if d, ok := item.(map[string]any); ok {
				apps = append(apps, appFromDict(d))
			}
		}
	}
}
