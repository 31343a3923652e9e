package nskeyed

import "fmt"

// TestConfiguration is the decoded/encoded form of an XCTestConfiguration
// object: the payload testmanagerd pushes to the device (via AFC) before
// launching WebDriverAgent, and the shape this package's defaults fill in
// for every field a caller does not set explicitly.
type TestConfiguration struct {
	TestBundleURL       URL
	SessionIdentifier   UUID
	ProductModuleName   string
	AutomationFrameworkPath string

	InitializeForUITesting          bool
	ReportActivities                bool
	ReportResultsToIDE              bool
	SystemAttachmentLifetime        int64
	UserAttachmentLifetime          int64
	TestExecutionOrdering           int64
	FormatVersion                   int64
	TestsMustRunOnMainThread        bool
	TestTimeoutsEnabled             bool
	DisablePerformanceMetrics       bool
	EmitOSLogs                      bool
	GatherLocalizableStringsData    bool
	TreatMissingBaselinesAsFailures bool
}

// DefaultTestConfiguration returns a TestConfiguration with every field
// the device-side test runner expects set to its conventional default,
// leaving only the two fields that are intrinsic to a specific test run
// for the caller to fill in.
func DefaultTestConfiguration(testBundleURL URL, sessionIdentifier UUID) TestConfiguration {
	return TestConfiguration{
		TestBundleURL:                   testBundleURL,
		SessionIdentifier:               sessionIdentifier,
		ProductModuleName:               "WebDriverAgentRunner",
		AutomationFrameworkPath:         "/Developer/Library/PrivateFrameworks/XCTAutomationSupport.framework",
		InitializeForUITesting:          true,
		ReportActivities:                true,
		ReportResultsToIDE:              true,
		SystemAttachmentLifetime:        2,
		UserAttachmentLifetime:          1,
		TestExecutionOrdering:           0,
		FormatVersion:                   2,
		TestsMustRunOnMainThread:        true,
		TestTimeoutsEnabled:             false,
		DisablePerformanceMetrics:       false,
		EmitOSLogs:                      false,
		GatherLocalizableStringsData:    false,
		TreatMissingBaselinesAsFailures: false,
	}
}

// aggregateStatisticsBeforeCrash is the fixed empty-table shape every
// XCTestConfiguration archive carries regardless of run contents.
func aggregateStatisticsBeforeCrashDict() Dict {
	return Dict{
		{Key: String("XCSuiteRecordsKey"), Value: Dict{}},
	}
}

func (d *decoder) decodeTestConfiguration(obj map[string]any) (Value, error) {
	dict, err := d.decodeDict(obj)
	if err != nil {
		return nil, err
	}
	fields, _ := dict.(Dict)

	cfg := DefaultTestConfiguration(URL{}, UUID{})

	if v, ok := fields.Get("testBundleURL"); ok {
		if u, ok := v.(URL); ok {
			cfg.TestBundleURL = u
		}
	}
	if v, ok := fields.Get("sessionIdentifier"); ok {
		if u, ok := v.(UUID); ok {
			cfg.SessionIdentifier = u
		}
	}
	if v, ok := fields.Get("productModuleName"); ok {
		if s, ok := v.(String); ok {
			cfg.ProductModuleName = string(s)
		}
	}
	if v, ok := fields.Get("automationFrameworkPath"); ok {
		if s, ok := v.(String); ok {
			cfg.AutomationFrameworkPath = string(s)
		}
	}
	if v, ok := fields.Get("initializeForUITesting"); ok {
		if b, ok := v.(Bool); ok {
			cfg.InitializeForUITesting = bool(b)
		}
	}
	if v, ok := fields.Get("reportActivities"); ok {
		if b, ok := v.(Bool); ok {
			cfg.ReportActivities = bool(b)
		}
	}
	if v, ok := fields.Get("reportResultsToIDE"); ok {
		if b, ok := v.(Bool); ok {
			cfg.ReportResultsToIDE = bool(b)
		}
	}
	if v, ok := fields.Get("systemAttachmentLifetime"); ok {
		if n, ok := v.(Int); ok {
			cfg.SystemAttachmentLifetime = int64(n)
		}
	}
	if v, ok := fields.Get("userAttachmentLifetime"); ok {
		if n, ok := v.(Int); ok {
			cfg.UserAttachmentLifetime = int64(n)
		}
	}
	if v, ok := fields.Get("testExecutionOrdering"); ok {
		if n, ok := v.(Int); ok {
			cfg.TestExecutionOrdering = int64(n)
		}
	}
	if v, ok := fields.Get("formatVersion"); ok {
		if n, ok := v.(Int); ok {
			cfg.FormatVersion = int64(n)
		}
	}
	if v, ok := fields.Get("testsMustRunOnMainThread"); ok {
		if b, ok := v.(Bool); ok {
			cfg.TestsMustRunOnMainThread = bool(b)
		}
	}
	if v, ok := fields.Get("testTimeoutsEnabled"); ok {
		if b, ok := v.(Bool); ok {
			cfg.TestTimeoutsEnabled = bool(b)
		}
	}
	if v, ok := fields.Get("disablePerformanceMetrics"); ok {
		if b, ok := v.(Bool); ok {
			cfg.DisablePerformanceMetrics = bool(b)
		}
	}
	if v, ok := fields.Get("emitOSLogs"); ok {
		if b, ok := v.(Bool); ok {
			cfg.EmitOSLogs = bool(b)
		}
	}
	if v, ok := fields.Get("gatherLocalizableStringsData"); ok {
		if b, ok := v.(Bool); ok {
			cfg.GatherLocalizableStringsData = bool(b)
		}
	}
	if v, ok := fields.Get("treatMissingBaselinesAsFailures"); ok {
		if b, ok := v.(Bool); ok {
			cfg.TreatMissingBaselinesAsFailures = bool(b)
		}
	}
	return cfg, nil
}

func (TestConfiguration) isValue() {}

// Dict renders a TestConfiguration into the Dict shape XCTestConfiguration
// archives carry, merging the caller's two run-specific fields over the
// fixed default table.
func (c TestConfiguration) Dict() Dict {
	return Dict{
		{Key: String("testBundleURL"), Value: c.TestBundleURL},
		{Key: String("sessionIdentifier"), Value: c.SessionIdentifier},
		{Key: String("productModuleName"), Value: String(c.ProductModuleName)},
		{Key: String("automationFrameworkPath"), Value: String(c.AutomationFrameworkPath)},
		{Key: String("initializeForUITesting"), Value: Bool(c.InitializeForUITesting)},
		{Key: String("reportActivities"), Value: Bool(c.ReportActivities)},
		{Key: String("reportResultsToIDE"), Value: Bool(c.ReportResultsToIDE)},
		{Key: String("systemAttachmentLifetime"), Value: Int(c.SystemAttachmentLifetime)},
		{Key: String("userAttachmentLifetime"), Value: Int(c.UserAttachmentLifetime)},
		{Key: String("testExecutionOrdering"), Value: Int(c.TestExecutionOrdering)},
		{Key: String("formatVersion"), Value: Int(c.FormatVersion)},
		{Key: String("testsMustRunOnMainThread"), Value: Bool(c.TestsMustRunOnMainThread)},
		{Key: String("testTimeoutsEnabled"), Value: Bool(c.TestTimeoutsEnabled)},
		{Key: String("disablePerformanceMetrics"), Value: Bool(c.DisablePerformanceMetrics)},
		{Key: String("emitOSLogs"), Value: Bool(c.EmitOSLogs)},
		{Key: String("gatherLocalizableStringsData"), Value: Bool(c.GatherLocalizableStringsData)},
		{Key: String("treatMissingBaselinesAsFailures"), Value: Bool(c.TreatMissingBaselinesAsFailures)},
		{Key: String("aggregateStatisticsBeforeCrash"), Value: aggregateStatisticsBeforeCrashDict()},
	}
}

func (c TestConfiguration) String() string {
	return fmt.Sprintf("TestConfiguration{module=%s session=%x}", c.ProductModuleName, c.SessionIdentifier)
}
