package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/afc"
	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
)

const installationServiceName = "com.apple.mobile.installation_proxy"

func runInstall(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	bundleID := fs.String("bundle-id", "", "bundle identifier (default: read from the ipa's Info.plist by the device)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: ios install -udid <udid> <ipa>")
	}
	localIPA := fs.Arg(0)

	ctx := context.Background()
	_, sess, err := session(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer sess.StopSession()

	if err := stageIPA(ctx, sess, localIPA); err != nil {
		return fmt.Errorf("stage ipa: %w", err)
	}

	conn, _, err := sess.OpenService(ctx, installationServiceName)
	if err != nil {
		return fmt.Errorf("open installation_proxy: %w", err)
	}
	installer := installation.New(conn)
	defer installer.Close()

	devicePath := stagingIPAPath(localIPA)
	err = installer.Install(*bundleID, devicePath, func(status string, percent int) {
		fmt.Printf("installing: %s %d%%\n", status, percent)
	})
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	fmt.Println("installed")
	return nil
}

// stageIPA uploads localIPA into the device's PublicStaging area over AFC,
// where installation_proxy expects to find it.
func stageIPA(ctx context.Context, sess *lockdown.Session, localIPA string) error {
	conn, _, err := sess.OpenService(ctx, afcServiceName)
	if err != nil {
		return err
	}
	client, err := afc.New(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	f, err := os.Open(localIPA)
	if err != nil {
		return err
	}
	defer f.Close()

	devicePath := stagingIPAPath(localIPA)
	if err := client.Mkdir("/PublicStaging"); err != nil {
		// already exists is fine; Mkdir surfaces a StatusError we don't
		// need to special-case here since Push below will fail loudly
		// if the directory truly could not be created.
		_ = err
	}
	return client.Push(devicePath, f)
}

func stagingIPAPath(localIPA string) string {
	return "/PublicStaging/" + baseName(localIPA)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
