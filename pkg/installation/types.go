package installation

// InstalledApplication is the subset of an installation_proxy app record
// callers most often need; the full device reply carries many more
// vendor-specific keys, reachable via Raw.
type InstalledApplication struct {
	BundleID    string
	DisplayName string
	Version     string
	Path        string
	Container   string
	Raw         map[string]any
}

func appFromDict(d map[string]any) InstalledApplication {
	return InstalledApplication{
		BundleID:    stringField(d, "CFBundleIdentifier"),
		DisplayName: stringField(d, "CFBundleDisplayName"),
		Version:     stringField(d, "CFBundleShortVersionString"),
		Path:        stringField(d, "Path"),
		Container:   stringField(d, "Container"),
		Raw:         d,
	}
}

func stringField(d map[string]any, key string) string {
	s, _ := d[key].(string)
	return s
}

// ProgressFunc receives successive Install/Uninstall progress updates.
type ProgressFunc func(status string, percentComplete int)
