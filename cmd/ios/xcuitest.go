package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/testmanagerd"
)

func runXCUITest(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("xcuitest", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	bundleID := fs.String("bundle-id", "", "installed XCUITest runner bundle identifier")
	testBundle := fs.String("test-bundle", "", "on-device path to the .xctest bundle inside the runner's PlugIns directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	if *bundleID == "" || *testBundle == "" {
		return fmt.Errorf("usage: ios xcuitest -udid <udid> -bundle-id <id> -test-bundle <device-path>")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	_, sess, err := session(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer sess.StopSession()

	version, err := productVersion(sess)
	if err != nil {
		return fmt.Errorf("read ProductVersion: %w", err)
	}
	major := parseMajorVersion(version)

	instConn, _, err := sess.OpenService(ctx, installationServiceName)
	if err != nil {
		return fmt.Errorf("open installation_proxy: %w", err)
	}
	installer := installation.New(instConn)
	defer installer.Close()

	driver := testmanagerd.New(sess, installer, major)
	fmt.Printf("running %s against %s\n", *testBundle, *bundleID)
	if err := driver.Run(ctx, *bundleID, *testBundle); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Println("test session ended")
	return nil
}

func parseMajorVersion(version string) int {
	major := 0
	for i := 0; i < len(version); i++ {
		c := version[i]
		if c == '.' {
			break
		}
		if c < '0' || c > '9' {
			return major
		}
		major = major*10 + int(c-'0')
	}
	return major
}
