package instruments

import (
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/dtx"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// Streams deliver via the connection's "notification" dispatch hook.
// Apart from energy sampling (StopEnergySampling), none of them have a
// device-side stop call, so the only way to end one is to close the DTX
// connection (Client.Close).

// StartFPSSampling starts the graphics.opengl FPS stream at the given
// sampling interval in seconds.
func (c *Client) StartFPSSampling(intervalSeconds float64) error {
	ch, err := c.channel(ChannelGraphicsOpenGL)
	if err != nil {
		return err
	}
	if err := ch.Send("startSamplingAtTimeInterval:", dtx.ArgObject{Value: nskeyed.Real(intervalSeconds)}); err != nil {
		return fmt.Errorf("instruments: startSamplingAtTimeInterval: %w", err)
	}
	return nil
}

// StartSysmonTap configures and starts the sysmontap CPU/memory stream.
func (c *Client) StartSysmonTap(config nskeyed.Dict) error {
	ch, err := c.channel(ChannelSysmontap)
	if err != nil {
		return err
	}
	if err := ch.Send("setConfig:", dtx.ArgObject{Value: config}); err != nil {
		return fmt.Errorf("instruments: sysmontap setConfig: %w", err)
	}
	if err := ch.Send("start"); err != nil {
		return fmt.Errorf("instruments: sysmontap start: %w", err)
	}
	return nil
}

// StartNetworkMonitoring starts the networking stream.
func (c *Client) StartNetworkMonitoring() error {
	ch, err := c.channel(ChannelNetworking)
	if err != nil {
		return err
	}
	if err := ch.Send("startMonitoring"); err != nil {
		return fmt.Errorf("instruments: startMonitoring: %w", err)
	}
	return nil
}

// SetApplicationStateNotificationsEnabled toggles the app-state stream.
func (c *Client) SetApplicationStateNotificationsEnabled(enabled bool) error {
	ch, err := c.channel(ChannelMobileNotifications)
	if err != nil {
		return err
	}
	if err := ch.Send("setApplicationStateNotificationsEnabled:", dtx.ArgObject{Value: nskeyed.Bool(enabled)}); err != nil {
		return fmt.Errorf("instruments: setApplicationStateNotificationsEnabled: %w", err)
	}
	return nil
}

// StartEnergySampling begins energy-gauge sampling for the given pids.
func (c *Client) StartEnergySampling(pids []uint64) error {
	ch, err := c.channel(ChannelEnergy)
	if err != nil {
		return err
	}
	if err := ch.Send("startSamplingForPIDs:", dtx.ArgObject{Value: uint64Set(pids)}); err != nil {
		return fmt.Errorf("instruments: startSamplingForPIDs: %w", err)
	}
	return nil
}

// SampleEnergyAttributes requests one energy sample for attrs/pids.
func (c *Client) SampleEnergyAttributes(attrs []string, pids []uint64) error {
	ch, err := c.channel(ChannelEnergy)
	if err != nil {
		return err
	}
	if err := ch.Send("sampleAttributes:forPIDs:",
		dtx.ArgObject{Value: stringSet(attrs)},
		dtx.ArgObject{Value: uint64Set(pids)},
	); err != nil {
		return fmt.Errorf("instruments: sampleAttributes:forPIDs:: %w", err)
	}
	return nil
}

// StopEnergySampling ends energy-gauge sampling for the given pids.
func (c *Client) StopEnergySampling(pids []uint64) error {
	ch, err := c.channel(ChannelEnergy)
	if err != nil {
		return err
	}
	if err := ch.Send("stopSamplingForPIDs:", dtx.ArgObject{Value: uint64Set(pids)}); err != nil {
		return fmt.Errorf("instruments: stopSamplingForPIDs: %w", err)
	}
	return nil
}

func uint64Set(pids []uint64) nskeyed.Set {
	s := make(nskeyed.Set, 0, len(pids))
	for _, p := range pids {
		s = append(s, nskeyed.Int(p))
	}
	return s
}

func stringSet(vals []string) nskeyed.Set {
	s := make(nskeyed.Set, 0, len(vals))
	for _, v := range vals {
		s = append(s, nskeyed.String(v))
	}
	return s
}
