package testmanagerd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmq-project/tmq-ios/pkg/dtx"
	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/instruments"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// ChannelIDEDaemon is the channel both testmanagerd DTX connections
// allocate to exchange IDE/daemon interface messages.
const ChannelIDEDaemon = "dtxproxy:XCTestManager_IDEInterface:XCTestManager_DaemonConnectionInterface"

// ProtocolVersion is the IDE protocol version this driver speaks; it must
// match across every version-tagged call in the session.
const ProtocolVersion = 29

// ServiceNameInsecure and ServiceNameSecure are the lockdown services
// exposing testmanagerd; iOS >= 14 devices only expose the secure variant.
const (
	ServiceNameInsecure = "com.apple.testmanagerd.lockdown"
	ServiceNameSecure   = "com.apple.testmanagerd.lockdown.secure"
)

func testmanagerdServiceName(majorVersion int) string {
	if majorVersion >= 14 {
		return ServiceNameSecure
	}
	return ServiceNameInsecure
}

func instrumentsServiceName(majorVersion int) string {
	if majorVersion >= 14 {
		return instruments.ServiceNameSecure
	}
	return instruments.ServiceName
}

// Driver orchestrates one XCUITest run: two DTX connections to
// testmanagerd, one to the Instruments remote server, and the AFC push of
// the test configuration into the runner's sandbox, all opened through a
// single authenticated lockdown session.
type Driver struct {
	session      *lockdown.Session
	installation *installation.Client
	majorVersion int
}

// New builds a Driver against an already-authenticated lockdown session.
// majorVersion is the device's iOS major version (from GetValue
// "ProductVersion"), which gates several calls' shape.
func New(session *lockdown.Session, inst *installation.Client, majorVersion int) *Driver {
	return &Driver{session: session, installation: inst, majorVersion: majorVersion}
}

// Run brings up a full XCUITest session for bundleID (the runner app, e.g.
// "com.example.WebDriverAgentRunner.xctrunner") running the .xctest bundle
// at testBundleDevicePath (its on-device path inside the runner's PlugIns
// directory), and blocks until ctx is cancelled or either testmanagerd DTX
// connection closes. On return it kills the launched runner process.
func (d *Driver) Run(ctx context.Context, bundleID, testBundleDevicePath string) error {
	app, err := d.installation.Lookup(bundleID)
	if err != nil {
		return fmt.Errorf("testmanagerd: lookup %s: %w", bundleID, err)
	}

	sessionID := uuid.New()

	dtx1, err := d.dialTestmanagerd(ctx)
	if err != nil {
		return err
	}
	defer dtx1.Close()

	ch1, err := dtx1.RequestChannel(ChannelIDEDaemon)
	if err != nil {
		return fmt.Errorf("testmanagerd: DTX#1 IDE-daemon channel: %w", err)
	}
	if _, err := ch1.Call("_IDE_initiateControlSessionWithProtocolVersion:", dtx.ArgObject{Value: nskeyed.Int(ProtocolVersion)}); err != nil {
		return fmt.Errorf("testmanagerd: initiate control session: %w", err)
	}

	dtx2, err := d.dialTestmanagerd(ctx)
	if err != nil {
		return err
	}
	defer dtx2.Close()

	ch2, err := dtx2.RequestChannel(ChannelIDEDaemon)
	if err != nil {
		return fmt.Errorf("testmanagerd: DTX#2 IDE-daemon channel: %w", err)
	}

	finished := make(chan struct{})
	var closeFinishedOnce sync.Once
	signalFinished := func(string, []dtx.Arg) {
		closeFinishedOnce.Do(func() { close(finished) })
	}
	dtx1.OnNotification("finished", signalFinished)
	dtx2.OnNotification("finished", signalFinished)

	var startOnce sync.Once
	startExecuting := func() {
		startOnce.Do(func() {
			ch2.Send("_IDE_startExecutingTestPlanWithProtocolVersion:", dtx.ArgObject{Value: nskeyed.Int(ProtocolVersion)})
		})
	}
	dtx2.OnNotification("_XCT_testBundleReadyWithProtocolVersion:minimumVersion:", func(string, []dtx.Arg) {
		startExecuting()
	})
	dtx2.OnNotification("_XCT_logDebugMessage:", func(_ string, args []dtx.Arg) {
		if mentionsRunnerReady(args) {
			startExecuting()
		}
	})

	sandbox, err := openSandboxAFC(ctx, d.session, bundleID)
	if err != nil {
		return err
	}
	defer sandbox.Close()

	_, absoluteConfigPath, err := pushTestConfiguration(ctx, sandbox, app, testBundleDevicePath, sessionID)
	if err != nil {
		return err
	}

	instrConn, _, err := d.session.OpenService(ctx, instrumentsServiceName(d.majorVersion))
	if err != nil {
		return fmt.Errorf("testmanagerd: open instruments: %w", err)
	}
	instrDTX, err := dtx.Dial(instrConn)
	if err != nil {
		instrConn.Close()
		return fmt.Errorf("testmanagerd: instruments DTX handshake: %w", err)
	}
	defer instrDTX.Close()
	instr := instruments.New(instrDTX)

	env := launchEnv(app, app.Container, absoluteConfigPath, d.majorVersion)
	pid, err := instr.LaunchSuspended(app.Path, bundleID, launchArgs(), env, launchOptions(d.majorVersion))
	if err != nil {
		return fmt.Errorf("testmanagerd: launch %s: %w", bundleID, err)
	}
	defer instr.KillPid(pid)

	if err := instr.StartObservingPid(pid); err != nil {
		return fmt.Errorf("testmanagerd: observe pid %d: %w", pid, err)
	}

	if _, err := ch2.Call("_IDE_initiateSessionWithIdentifier:forClient:atPath:protocolVersion:",
		dtx.ArgObject{Value: nskeyed.UUID(sessionID)},
		dtx.ArgObject{Value: nskeyed.String(strings.ToUpper(sessionID.String()) + "-6722-000247F15966B083")},
		dtx.ArgObject{Value: nskeyed.String("/Applications/Xcode.app/Contents/Developer/usr/bin/xcodebuild")},
		dtx.ArgObject{Value: nskeyed.Int(ProtocolVersion)},
	); err != nil {
		return fmt.Errorf("testmanagerd: initiate session: %w", err)
	}

	if err := d.authorizeTestSession(ch1, pid); err != nil {
		return err
	}

	select {
	case <-finished:
	case <-ctx.Done():
	}
	return nil
}

func (d *Driver) dialTestmanagerd(ctx context.Context) (*dtx.Connection, error) {
	conn, _, err := d.session.OpenService(ctx, testmanagerdServiceName(d.majorVersion))
	if err != nil {
		return nil, fmt.Errorf("testmanagerd: open service: %w", err)
	}
	dc, err := dtx.Dial(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("testmanagerd: DTX handshake: %w", err)
	}
	return dc, nil
}

// authorizeTestSession issues the version-gated call that authorizes the
// launched runner process with testmanagerd, per spec step 6.
func (d *Driver) authorizeTestSession(ch1 *dtx.Channel, pid uint64) error {
	var err error
	switch {
	case d.majorVersion >= 12:
		_, err = ch1.Call("_IDE_authorizeTestSessionWithProcessID:", dtx.ArgObject{Value: nskeyed.Int(int64(pid))})
	case d.majorVersion >= 10:
		_, err = ch1.Call("_IDE_initiateControlSessionForTestProcessID:protocolVersion:",
			dtx.ArgObject{Value: nskeyed.Int(int64(pid))},
			dtx.ArgObject{Value: nskeyed.Int(ProtocolVersion)},
		)
	default:
		_, err = ch1.Call("_IDE_initiateControlSessionForTestProcessID:", dtx.ArgObject{Value: nskeyed.Int(int64(pid))})
	}
	if err != nil {
		return fmt.Errorf("testmanagerd: authorize test session: %w", err)
	}
	return nil
}

func mentionsRunnerReady(args []dtx.Arg) bool {
	for _, a := range args {
		if obj, ok := a.(dtx.ArgObject); ok && valueMentionsRunnerReady(obj.Value) {
			return true
		}
	}
	return false
}

func valueMentionsRunnerReady(v nskeyed.Value) bool {
	switch vv := v.(type) {
	case nskeyed.String:
		return strings.Contains(string(vv), "Received test runner ready reply with error: (null")
	case nskeyed.Array:
		for _, item := range vv {
			if valueMentionsRunnerReady(item) {
				return true
			}
		}
	}
	return false
}
