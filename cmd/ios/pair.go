package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/hostcert"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
)

func runPair(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	ctx := context.Background()
	mux := newMuxClient(&cfg)

	dev, err := device(ctx, mux, &cfg)
	if err != nil {
		return err
	}

	buid, err := mux.ReadBUID(ctx)
	if err != nil {
		return fmt.Errorf("read system BUID: %w", err)
	}

	store := hostcert.NewFileStore(cfg.PairDir())
	sess, err := lockdown.Dial(ctx, mux, dev, store, buid)
	if err != nil {
		return fmt.Errorf("dial lockdown: %w", err)
	}
	defer sess.Close()

	if err := sess.StartSession(ctx); err != nil {
		return fmt.Errorf("pair: %w", err)
	}
	defer sess.StopSession()

	fmt.Printf("paired with %s\n", dev.UDID)
	return nil
}
