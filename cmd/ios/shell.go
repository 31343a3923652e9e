package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/tmq-project/tmq-ios/internal/iosconfig"
)

// runShell is an interactive REPL over a single device's lockdown
// session, without re-dialing usbmuxd for every command. It understands a
// plain "info" readout plus "quit"/"exit"; it has no afc commands.
func runShell(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
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

	rl, err := readline.New("ios> ")
	if err != nil {
		return fmt.Errorf("open interactive shell: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := dispatchShellLine(ctx, sess, line); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

func dispatchShellLine(ctx context.Context, sess sessioner, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "info":
		v, err := sess.GetValue("", "")
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", v)
		return nil
	default:
		return fmt.Errorf("unknown shell command %q (try: info, quit)", fields[0])
	}
}

// sessioner is the narrow slice of *lockdown.Session the shell needs,
// kept as an interface so dispatchShellLine stays independently testable.
type sessioner interface {
	GetValue(domain, key string) (any, error)
}
