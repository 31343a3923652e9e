package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/screenshotr"
)

func runScreenshot(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("screenshot", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	out := fs.String("out", "screenshot.png", "output file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	ctx := context.Background()
	_, sess, err := session(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer sess.StopSession()

	conn, _, err := sess.OpenService(ctx, screenshotr.ServiceName)
	if err != nil {
		return fmt.Errorf("open screenshotr: %w", err)
	}
	client, err := screenshotr.New(conn)
	if err != nil {
		return fmt.Errorf("screenshotr handshake: %w", err)
	}
	defer client.Close()

	data, err := client.Take()
	if err != nil {
		return fmt.Errorf("take screenshot: %w", err)
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
	return nil
}
