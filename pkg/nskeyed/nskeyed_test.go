package nskeyed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDictRoundTrip(t *testing.T) {
	original := Dict{
		{Key: String("name"), Value: String("WebDriverAgentRunner")},
		{Key: String("count"), Value: Int(3)},
		{Key: String("ok"), Value: Bool(true)},
	}

	archive := Encode(original)
	decoded, err := Decode(archive)
	require.NoError(t, err)

	dict, ok := decoded.(Dict)
	require.True(t, ok)

	v, ok := dict.Get("name")
	require.True(t, ok)
	require.Equal(t, String("WebDriverAgentRunner"), v)

	v, ok = dict.Get("count")
	require.True(t, ok)
	require.Equal(t, Int(3), v)

	v, ok = dict.Get("ok")
	require.True(t, ok)
	require.Equal(t, Bool(true), v)
}

func TestArraySetAndNestedValues(t *testing.T) {
	original := Array{
		String("a"),
		Int(1),
		Array{String("nested")},
		Null{},
	}

	archive := Encode(original)
	decoded, err := Decode(archive)
	require.NoError(t, err)

	arr, ok := decoded.(Array)
	require.True(t, ok)
	require.Len(t, arr, 4)
	require.Equal(t, String("a"), arr[0])
	require.Equal(t, Int(1), arr[1])
	nested, ok := arr[2].(Array)
	require.True(t, ok)
	require.Equal(t, String("nested"), nested[0])
	require.Equal(t, Null{}, arr[3])
}

func TestDateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	archive := Encode(Date(now))
	decoded, err := Decode(archive)
	require.NoError(t, err)

	got, ok := decoded.(Date)
	require.True(t, ok)
	require.WithinDuration(t, now, time.Time(got), time.Microsecond)
}

func TestUUIDRoundTrip(t *testing.T) {
	var u UUID
	for i := range u {
		u[i] = byte(i)
	}
	archive := Encode(u)
	decoded, err := Decode(archive)
	require.NoError(t, err)
	require.Equal(t, u, decoded)
}

func TestURLRoundTrip(t *testing.T) {
	original := URL{Relative: "platform://device/path", Base: ""}
	archive := Encode(original)
	decoded, err := Decode(archive)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestArchivedErrorRoundTrip(t *testing.T) {
	original := ArchivedError{
		Code:     12,
		Domain:   "XCTestManagerErrorDomain",
		UserInfo: Dict{{Key: String("NSLocalizedDescription"), Value: String("boom")}},
	}
	archive := Encode(original)
	decoded, err := Decode(archive)
	require.NoError(t, err)

	got, ok := decoded.(ArchivedError)
	require.True(t, ok)
	require.Equal(t, original.Code, got.Code)
	require.Equal(t, original.Domain, got.Domain)
	dict, ok := got.UserInfo.(Dict)
	require.True(t, ok)
	v, _ := dict.Get("NSLocalizedDescription")
	require.Equal(t, String("boom"), v)
}

// TestTestConfigurationDefaultsPreserved covers the default-field table a
// freshly built TestConfiguration carries for every field the caller does
// not set explicitly, confirming a round trip through the archive format
// keeps them intact.
func TestTestConfigurationDefaultsPreserved(t *testing.T) {
	bundleURL := URL{Relative: "file:///tmp/WebDriverAgentRunner.xctest"}
	var sessionID UUID
	copy(sessionID[:], []byte("0123456789abcdef"))

	cfg := DefaultTestConfiguration(bundleURL, sessionID)
	archive := Encode(cfg)
	decoded, err := Decode(archive)
	require.NoError(t, err)

	got, ok := decoded.(TestConfiguration)
	require.True(t, ok)

	require.Equal(t, bundleURL, got.TestBundleURL)
	require.Equal(t, sessionID, got.SessionIdentifier)
	require.Equal(t, "WebDriverAgentRunner", got.ProductModuleName)
	require.Equal(t, "/Developer/Library/PrivateFrameworks/XCTAutomationSupport.framework", got.AutomationFrameworkPath)
	require.True(t, got.InitializeForUITesting)
	require.True(t, got.ReportActivities)
	require.True(t, got.ReportResultsToIDE)
	require.Equal(t, int64(2), got.SystemAttachmentLifetime)
	require.Equal(t, int64(1), got.UserAttachmentLifetime)
	require.Equal(t, int64(0), got.TestExecutionOrdering)
	require.Equal(t, int64(2), got.FormatVersion)
	require.True(t, got.TestsMustRunOnMainThread)
	require.False(t, got.TestTimeoutsEnabled)
	require.False(t, got.DisablePerformanceMetrics)
	require.False(t, got.EmitOSLogs)
	require.False(t, got.GatherLocalizableStringsData)
	require.False(t, got.TreatMissingBaselinesAsFailures)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, err := Decode(map[string]any{
		"$version":  int64(1),
		"$archiver": ExpectedArchiver,
		"$objects":  []any{"$null"},
		"$top":      map[string]any{"root": uint64(0)},
	})
	require.Error(t, err)
}

func TestDecodeUnsupportedClass(t *testing.T) {
	archive := map[string]any{
		"$version":  int64(ExpectedVersion),
		"$archiver": ExpectedArchiver,
		"$top":      map[string]any{"root": uint64(1)},
		"$objects": []any{
			"$null",
			map[string]any{"$class": uint64(2)},
			map[string]any{"$classes": []any{"SomeMysteryClass", "NSObject"}, "$classname": "SomeMysteryClass"},
		},
	}
	_, err := Decode(archive)
	require.Error(t, err)
	var unsupported *DecodeUnsupported
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "SomeMysteryClass", unsupported.ClassName)
}

func TestDecodeIgnoresAllowListedClasses(t *testing.T) {
	archive := map[string]any{
		"$version":  int64(ExpectedVersion),
		"$archiver": ExpectedArchiver,
		"$top":      map[string]any{"root": uint64(1)},
		"$objects": []any{
			"$null",
			map[string]any{"$class": uint64(2)},
			map[string]any{"$classes": []any{"DTTapHeartbeatMessage", "NSObject"}, "$classname": "DTTapHeartbeatMessage"},
		},
	}
	decoded, err := Decode(archive)
	require.NoError(t, err)
	ignored, ok := decoded.(Ignored)
	require.True(t, ok)
	require.Equal(t, "DTTapHeartbeatMessage", ignored.ClassName)
}
