// Command ios is a reference CLI over this module's device-control
// packages: listing attached devices, pairing, browsing the file system,
// installing apps, taking screenshots, mounting the developer disk image,
// driving an XCUITest run, and streaming the unified log.
//
// Usage:
//
//	ios list
//	ios info -udid <udid>
//	ios pair -udid <udid>
//	ios afc -udid <udid> {ls|pull|push|rm} <path> [<local-path>]
//	ios install -udid <udid> <ipa>
//	ios screenshot -udid <udid> -out shot.png
//	ios mount -udid <udid>
//	ios xcuitest -udid <udid> -bundle-id <id> -test-bundle <path>
//	ios syslog -udid <udid>
//
// Every subcommand other than list additionally accepts -usbmux,
// -state-dir and -log-level (list accepts only -usbmux), each of which can
// instead be set through the environment:
// TMQ_USBMUX, TMQ_DEVICE_UDID, TMQ_STATE_DIR, TMQ_LOG_LEVEL.
package main

import (
	"fmt"
	"os"
)

const usage = `ios - control an attached iOS device

Usage:
  ios <command> [flags] [args]

Commands:
  list        list attached devices
  info        print a device's lockdown properties
  pair        pair with a device
  afc         browse a device's media file system
  install     install an .ipa
  screenshot  capture the device screen
  mount       mount the developer disk image
  xcuitest    run an XCUITest bundle
  syslog      stream the unified log
  shell       interactive session against one device

Run 'ios <command> -h' for a command's flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "list":
		err = runList(args)
	case "info":
		err = runInfo(args)
	case "pair":
		err = runPair(args)
	case "afc":
		err = runAFC(args)
	case "install":
		err = runInstall(args)
	case "screenshot":
		err = runScreenshot(args)
	case "mount":
		err = runMount(args)
	case "xcuitest":
		err = runXCUITest(args)
	case "syslog":
		err = runSyslog(args)
	case "shell":
		err = runShell(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "ios: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ios %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
