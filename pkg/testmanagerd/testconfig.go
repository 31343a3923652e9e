package testmanagerd

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// targetName derives the test target's name from the runner app's
// CFBundleExecutable by stripping its trailing "-Runner" suffix.
func targetName(app installation.InstalledApplication) string {
	exe, _ := app.Raw["CFBundleExecutable"].(string)
	return strings.TrimSuffix(exe, "-Runner")
}

// pushTestConfiguration removes any stale *.xctestconfiguration file from
// /tmp in the runner's sandbox, then pushes the archived configuration for
// this run. It returns the device path (inside the sandbox) and the
// absolute path as seen by the launched process, for use as launch
// environment values.
func pushTestConfiguration(ctx context.Context, sandbox *sandboxConn, app installation.InstalledApplication, testBundleDevicePath string, sessionID uuid.UUID) (devicePath, absolutePath string, err error) {
	stale, err := sandbox.client.ListDir("/tmp")
	if err != nil {
		return "", "", fmt.Errorf("testmanagerd: list /tmp in sandbox: %w", err)
	}
	for _, name := range stale {
		if strings.HasSuffix(name, ".xctestconfiguration") {
			if err := sandbox.client.Remove("/tmp/" + name); err != nil {
				return "", "", fmt.Errorf("testmanagerd: remove stale %s: %w", name, err)
			}
		}
	}

	fileName := fmt.Sprintf("%s-%s.xctestconfiguration", targetName(app), strings.ToUpper(sessionID.String()))
	devicePath = "/tmp/" + fileName
	absolutePath = app.Container + devicePath

	cfg := nskeyed.DefaultTestConfiguration(
		nskeyed.URL{Relative: "file://" + testBundleDevicePath},
		nskeyed.UUID(sessionID),
	)
	data, err := nskeyed.EncodeBytes(cfg)
	if err != nil {
		return "", "", fmt.Errorf("testmanagerd: encode TestConfiguration: %w", err)
	}
	if err := sandbox.client.Push(devicePath, bytes.NewReader(data)); err != nil {
		return "", "", fmt.Errorf("testmanagerd: push test configuration: %w", err)
	}
	return devicePath, absolutePath, nil
}
