package instruments

import (
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/dtx"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// LaunchOptions configures LaunchSuspended; StartSuspended and
// ActivateSuspended mirror the launch options named in spec.md §6.
type LaunchOptions struct {
	StartSuspended    bool
	ActivateSuspended bool
}

func (o LaunchOptions) dict() nskeyed.Dict {
	d := nskeyed.Dict{
		{Key: nskeyed.String("StartSuspendedKey"), Value: nskeyed.Bool(o.StartSuspended)},
	}
	if o.ActivateSuspended {
		d = append(d, nskeyed.DictEntry{Key: nskeyed.String("ActivateSuspended"), Value: nskeyed.Bool(true)})
	}
	return d
}

func envDict(env map[string]string) nskeyed.Dict {
	d := make(nskeyed.Dict, 0, len(env))
	for k, v := range env {
		d = append(d, nskeyed.DictEntry{Key: nskeyed.String(k), Value: nskeyed.String(v)})
	}
	return d
}

func stringArray(args []string) nskeyed.Array {
	arr := make(nskeyed.Array, 0, len(args))
	for _, a := range args {
		arr = append(arr, nskeyed.String(a))
	}
	return arr
}

// LaunchSuspended launches bundleID at devicePath (the app bundle's
// on-device path) suspended, returning its pid.
func (c *Client) LaunchSuspended(devicePath, bundleID string, args []string, env map[string]string, opts LaunchOptions) (uint64, error) {
	ch, err := c.channel(ChannelProcessControl)
	if err != nil {
		return 0, err
	}
	result, err := ch.Call("launchSuspendedProcessWithDevicePath:bundleIdentifier:environment:arguments:options:",
		dtx.ArgObject{Value: nskeyed.String(devicePath)},
		dtx.ArgObject{Value: nskeyed.String(bundleID)},
		dtx.ArgObject{Value: envDict(env)},
		dtx.ArgObject{Value: stringArray(args)},
		dtx.ArgObject{Value: opts.dict()},
	)
	if err != nil {
		return 0, fmt.Errorf("instruments: launch %s: %w", bundleID, err)
	}
	pid, ok := result.(nskeyed.Int)
	if !ok {
		return 0, fmt.Errorf("instruments: launch %s: unexpected reply type %T", bundleID, result)
	}
	return uint64(pid), nil
}

// KillPid terminates the process with the given pid.
func (c *Client) KillPid(pid uint64) error {
	ch, err := c.channel(ChannelProcessControl)
	if err != nil {
		return err
	}
	_, err = ch.Call("killPid:", dtx.ArgU64(pid))
	if err != nil {
		return fmt.Errorf("instruments: kill pid %d: %w", pid, err)
	}
	return nil
}

// StartObservingPid registers for lifecycle notifications about pid;
// delivery arrives via the connection's notification dispatch.
func (c *Client) StartObservingPid(pid uint64) error {
	ch, err := c.channel(ChannelProcessControl)
	if err != nil {
		return err
	}
	return ch.Send("startObservingPid:", dtx.ArgU64(pid))
}

// RunningProcesses returns the device's running process list, each entry
// a raw archived dictionary (pid, name, etc. vary by iOS version).
func (c *Client) RunningProcesses() ([]nskeyed.Value, error) {
	ch, err := c.channel(ChannelDeviceInfo)
	if err != nil {
		return nil, err
	}
	result, err := ch.Call("runningProcesses")
	if err != nil {
		return nil, fmt.Errorf("instruments: runningProcesses: %w", err)
	}
	arr, ok := result.(nskeyed.Array)
	if !ok {
		return nil, fmt.Errorf("instruments: runningProcesses: unexpected reply type %T", result)
	}
	return arr, nil
}

// SystemInformation returns the device's raw systemInformation dictionary.
func (c *Client) SystemInformation() (nskeyed.Dict, error) {
	ch, err := c.channel(ChannelDeviceInfo)
	if err != nil {
		return nil, err
	}
	result, err := ch.Call("systemInformation")
	if err != nil {
		return nil, fmt.Errorf("instruments: systemInformation: %w", err)
	}
	d, ok := result.(nskeyed.Dict)
	if !ok {
		return nil, fmt.Errorf("instruments: systemInformation: unexpected reply type %T", result)
	}
	return d, nil
}

// InstalledApplications returns installed apps matching filter (nil for
// all), each entry a raw archived dictionary.
func (c *Client) InstalledApplications(filter nskeyed.Dict) ([]nskeyed.Value, error) {
	ch, err := c.channel(ChannelAppListing)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = nskeyed.Dict{}
	}
	result, err := ch.Call("installedApplicationsMatching:registerUpdateToken:",
		dtx.ArgObject{Value: filter},
		dtx.ArgObject{Value: nskeyed.Null{}},
	)
	if err != nil {
		return nil, fmt.Errorf("instruments: installedApplicationsMatching: %w", err)
	}
	arr, ok := result.(nskeyed.Array)
	if !ok {
		return nil, fmt.Errorf("instruments: installedApplicationsMatching: unexpected reply type %T", result)
	}
	return arr, nil
}
