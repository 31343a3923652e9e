package testmanagerd

import (
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/instruments"
)

// launchArgs are the fixed command-line arguments every XCTest runner
// launch carries, regardless of iOS version.
func launchArgs() []string {
	return []string{"-NSTreatUnknownArgumentsAsOpen", "NO", "-ApplePersistenceIgnoreState", "YES"}
}

// launchEnv builds the runner process environment per the fixed table,
// adding the iOS >= 11 keys when majorVersion warrants it.
func launchEnv(app installation.InstalledApplication, containerName string, xctestConfigAbsolutePath string, majorVersion int) map[string]string {
	env := map[string]string{
		"CA_ASSERT_MAIN_THREAD_TRANSACTIONS": "0",
		"CA_DEBUG_TRANSACTIONS":              "0",
		"DYLD_FRAMEWORK_PATH":                app.Path + "/Frameworks:",
		"DYLD_LIBRARY_PATH":                  app.Path + "/Frameworks",
		"NSUnbufferedIO":                     "YES",
		"SQLITE_ENABLE_THREAD_ASSERTIONS":    "1",
		"XCTestConfigurationFilePath":        xctestConfigAbsolutePath,
		"XCODE_DBG_XPC_EXCLUSIONS":           "com.apple.dt.xctestSymbolicator",
		"LLVM_PROFILE_FILE":                  fmt.Sprintf("%s/tmp/%%p.profraw", containerName),
	}
	if majorVersion >= 11 {
		env["DYLD_INSERT_LIBRARIES"] = "/Developer/usr/lib/libMainThreadChecker.dylib"
		env["OS_ACTIVITY_DT_MODE"] = "YES"
	}
	return env
}

// launchOptions returns the process-control launch options for
// majorVersion: iOS >= 12 additionally activates the suspended process.
func launchOptions(majorVersion int) instruments.LaunchOptions {
	return instruments.LaunchOptions{
		StartSuspended:    false,
		ActivateSuspended: majorVersion >= 12,
	}
}
