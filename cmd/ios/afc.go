package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"github.com/tmq-project/tmq-ios/pkg/afc"
)

const afcServiceName = "com.apple.afc"

func runAFC(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("afc", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	iosconfig.ResolveEnv(&cfg)

	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: ios afc -udid <udid> {ls|pull|push|rm} <path> [<local-path>]")
	}
	verb, remotePath, localArgs := rest[0], rest[1], rest[2:]

	ctx := context.Background()
	_, sess, err := session(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer sess.StopSession()

	conn, _, err := sess.OpenService(ctx, afcServiceName)
	if err != nil {
		return fmt.Errorf("open afc service: %w", err)
	}
	defer conn.Close()

	client, err := afc.New(conn)
	if err != nil {
		return fmt.Errorf("afc handshake: %w", err)
	}
	defer client.Close()

	switch verb {
	case "ls":
		names, err := client.ListDir(remotePath)
		if err != nil {
			return fmt.Errorf("ls %s: %w", remotePath, err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil

	case "pull":
		if len(localArgs) < 1 {
			return fmt.Errorf("usage: ios afc pull <remote-path> <local-path>")
		}
		f, err := os.Create(localArgs[0])
		if err != nil {
			return fmt.Errorf("create %s: %w", localArgs[0], err)
		}
		defer f.Close()
		if err := client.Pull(remotePath, f); err != nil {
			return fmt.Errorf("pull %s: %w", remotePath, err)
		}
		return nil

	case "push":
		// remotePath here holds the local source path (the positional
		// slot shared with ls/pull/rm's single <path> argument);
		// localArgs[0] is the remote destination.
		if len(localArgs) < 1 {
			return fmt.Errorf("usage: ios afc push <local-path> <remote-path>")
		}
		f, err := os.Open(remotePath)
		if err != nil {
			return fmt.Errorf("open %s: %w", remotePath, err)
		}
		defer f.Close()
		if err := client.Push(localArgs[0], f); err != nil {
			return fmt.Errorf("push %s: %w", localArgs[0], err)
		}
		return nil

	case "rm":
		if err := client.RmTree(remotePath); err != nil {
			return fmt.Errorf("rm %s: %w", remotePath, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown afc subcommand %q", verb)
	}
}
