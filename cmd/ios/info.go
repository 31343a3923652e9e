package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/tmq-project/tmq-ios/internal/iosconfig"
	"gopkg.in/yaml.v3"
)

func runInfo(args []string) error {
	var cfg iosconfig.Config
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	iosconfig.Register(fs, &cfg)
	domain := fs.String("domain", "", "lockdown domain to query (default: an aggregated device summary)")
	key := fs.String("key", "", "single key to query (default: an aggregated device summary)")
	format := fs.String("format", "text", "output format: text or yaml")
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

	if *domain == "" && *key == "" {
		info, err := iosconfig.CollectDeviceInfo(sess)
		if err != nil {
			return err
		}
		if *format == "yaml" {
			out, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("encode yaml: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}
		fmt.Printf("DeviceName: %s\n", info.DeviceName)
		fmt.Printf("ProductVersion: %s\n", info.ProductVersion)
		fmt.Printf("ProductType: %s\n", info.ProductType)
		fmt.Printf("UniqueDeviceID: %s\n", info.UniqueDeviceID)
		fmt.Printf("DiskUsage.TotalDiskCapacity: %d\n", info.DiskUsage.TotalDiskCapacity)
		fmt.Printf("DiskUsage.TotalDataCapacity: %d\n", info.DiskUsage.TotalDataCapacity)
		fmt.Printf("DiskUsage.TotalDataAvailable: %d\n", info.DiskUsage.TotalDataAvailable)
		fmt.Printf("DiskUsage.Used: %d\n", info.DiskUsage.Used)
		return nil
	}

	value, err := sess.GetValue(*domain, *key)
	if err != nil {
		return fmt.Errorf("get value: %w", err)
	}

	if *format == "yaml" {
		out, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	if *key != "" {
		fmt.Printf("%s: %v\n", *key, value)
		return nil
	}
	dict, ok := value.(map[string]any)
	if !ok {
		fmt.Printf("%v\n", value)
		return nil
	}
	for k, v := range dict {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}
