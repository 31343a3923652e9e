package iosconfig

import "fmt"

// ValueGetter is the narrow slice of *lockdown.Session that DeviceInfo
// collection needs, kept as an interface so it can be exercised without a
// real device.
type ValueGetter interface {
	GetValue(domain, key string) (any, error)
}

// DeviceInfo is the aggregated snapshot `ios info` prints by default: the
// handful of root-domain and com.apple.disk_usage keys a caller conventionally
// wants together, the way tidevice's device_info()/storage_info() pair does.
type DeviceInfo struct {
	DeviceName     string
	ProductVersion string
	ProductType    string
	UniqueDeviceID string
	DiskUsage      DiskUsage
}

// DiskUsage is the com.apple.disk_usage domain reduced to the three
// capacity counters a caller actually wants, plus the derived Used value.
type DiskUsage struct {
	TotalDiskCapacity  int64
	TotalDataCapacity  int64
	TotalDataAvailable int64
	Used               int64
}

// CollectDeviceInfo issues the root-domain and disk-usage GetValue calls and
// reduces both replies into one struct.
func CollectDeviceInfo(g ValueGetter) (*DeviceInfo, error) {
	root, err := g.GetValue("", "")
	if err != nil {
		return nil, fmt.Errorf("get root domain: %w", err)
	}
	rootDict, _ := root.(map[string]any)

	disk, err := g.GetValue("com.apple.disk_usage", "")
	if err != nil {
		return nil, fmt.Errorf("get com.apple.disk_usage domain: %w", err)
	}
	diskDict, _ := disk.(map[string]any)

	info := &DeviceInfo{
		DeviceName:     stringField(rootDict, "DeviceName"),
		ProductVersion: stringField(rootDict, "ProductVersion"),
		ProductType:    stringField(rootDict, "ProductType"),
		UniqueDeviceID: stringField(rootDict, "UniqueDeviceID"),
		DiskUsage: DiskUsage{
			TotalDiskCapacity:  intField(diskDict, "TotalDiskCapacity"),
			TotalDataCapacity:  intField(diskDict, "TotalDataCapacity"),
			TotalDataAvailable: intField(diskDict, "TotalDataAvailable"),
		},
	}
	info.DiskUsage.Used = info.DiskUsage.TotalDataCapacity - info.DiskUsage.TotalDataAvailable
	return info, nil
}

func stringField(dict map[string]any, key string) string {
	s, _ := dict[key].(string)
	return s
}

func intField(dict map[string]any, key string) int64 {
	switch v := dict[key].(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
