package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
)

func runMount(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
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

	if sess.Mounter == nil {
		return fmt.Errorf("could not open the image mounter service")
	}
	if err := sess.Mounter.EnsureMounted(ctx); err != nil {
		return fmt.Errorf("mount developer disk image: %w", err)
	}
	fmt.Println("developer disk image mounted")
	return nil
}
