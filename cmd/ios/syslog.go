package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/syslog"
)

func runSyslog(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("syslog", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	_, sess, err := session(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer sess.StopSession()

	entries, closer, err := syslog.Syslog(ctx, sess)
	if err != nil {
		return fmt.Errorf("open syslog: %w", err)
	}
	defer closer.Close()

	for entry := range entries {
		fmt.Printf("%s %s[%s]: %s\n", entry.Timestamp, entry.Process, entry.PID, entry.Message)
	}
	return nil
}
