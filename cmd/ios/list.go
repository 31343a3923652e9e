package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
)

func runList(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&cfg.Usbmux, "usbmux", "", "usbmuxd endpoint, e.g. unix:/var/run/usbmuxd or tcp:host:port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	ctx := context.Background()
	mux := newMuxClient(&cfg)

	devices, err := mux.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("no attached devices")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\n", d.UDID, d.ConnectionType)
	}
	return nil
}
