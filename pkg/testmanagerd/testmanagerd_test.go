package testmanagerd

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tmq-project/tmq-ios/pkg/afc"
	"github.com/tmq-project/tmq-ios/pkg/dtx"
	"github.com/tmq-project/tmq-ios/pkg/installation"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

func TestTargetNameStripsRunnerSuffix(t *testing.T) {
	app := installation.InstalledApplication{
		Raw: map[string]any{"CFBundleExecutable": "ExampleUITests-Runner"},
	}
	require.Equal(t, "ExampleUITests", targetName(app))
}

func TestTargetNameLeavesNonRunnerNamesAlone(t *testing.T) {
	app := installation.InstalledApplication{
		Raw: map[string]any{"CFBundleExecutable": "Example"},
	}
	require.Equal(t, "Example", targetName(app))
}

func TestServiceNameGating(t *testing.T) {
	require.Equal(t, ServiceNameInsecure, testmanagerdServiceName(13))
	require.Equal(t, ServiceNameSecure, testmanagerdServiceName(14))
	require.Equal(t, ServiceNameSecure, testmanagerdServiceName(15))
}

func TestLaunchEnvVersionGating(t *testing.T) {
	app := installation.InstalledApplication{Path: "/private/var/containers/Bundle/Application/X/Example.app"}

	env10 := launchEnv(app, "/container", "/container/tmp/cfg.xctestconfiguration", 10)
	_, has := env10["DYLD_INSERT_LIBRARIES"]
	require.False(t, has)

	env11 := launchEnv(app, "/container", "/container/tmp/cfg.xctestconfiguration", 11)
	require.Equal(t, "/Developer/usr/lib/libMainThreadChecker.dylib", env11["DYLD_INSERT_LIBRARIES"])
	require.Equal(t, "YES", env11["OS_ACTIVITY_DT_MODE"])
	require.Equal(t, "/container/tmp/cfg.xctestconfiguration", env11["XCTestConfigurationFilePath"])
	require.Equal(t, "/container/tmp/%p.profraw", env11["LLVM_PROFILE_FILE"])
}

func TestLaunchOptionsActivateSuspendedGating(t *testing.T) {
	require.False(t, launchOptions(11).ActivateSuspended)
	require.True(t, launchOptions(12).ActivateSuspended)
}

func TestMentionsRunnerReadyMatchesSubstringInString(t *testing.T) {
	args := []dtx.Arg{
		dtx.ArgObject{Value: nskeyed.String("Listening for test events")},
		dtx.ArgObject{Value: nskeyed.String("Received test runner ready reply with error: (null)")},
	}
	require.True(t, mentionsRunnerReady(args))
}

func TestMentionsRunnerReadyMatchesInsideArray(t *testing.T) {
	args := []dtx.Arg{
		dtx.ArgObject{Value: nskeyed.Array{
			nskeyed.String("unrelated"),
			nskeyed.String("Received test runner ready reply with error: (null"),
		}},
	}
	require.True(t, mentionsRunnerReady(args))
}

func TestMentionsRunnerReadyFalseOnUnrelatedMessage(t *testing.T) {
	args := []dtx.Arg{dtx.ArgObject{Value: nskeyed.String("some other debug message")}}
	require.False(t, mentionsRunnerReady(args))
}

// fakeSandboxAFCPeer accepts one connection and speaks the raw AFC wire
// protocol directly, mirroring how afc_test.go exercises pkg/afc from
// outside its own package.
func fakeSandboxAFCPeer(t *testing.T, logic func(t *testing.T, conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		logic(t, conn)
	}()
	return ln.Addr().String()
}

const afcHeaderSize = 40

func readAFCFrame(t *testing.T, conn net.Conn) (tag uint64, op afc.Operation, data []byte) {
	t.Helper()
	var hdr [afcHeaderSize]byte
	_, err := io.ReadFull(conn, hdr[:])
	require.NoError(t, err)
	require.Equal(t, afc.Magic, string(hdr[0:8]))
	totalLen := binary.LittleEndian.Uint64(hdr[8:16])
	tag = binary.LittleEndian.Uint64(hdr[24:32])
	op = afc.Operation(binary.LittleEndian.Uint64(hdr[32:40]))
	body := make([]byte, totalLen-afcHeaderSize)
	if len(body) > 0 {
		_, err = io.ReadFull(conn, body)
		require.NoError(t, err)
	}
	return tag, op, body
}

func writeAFCReply(t *testing.T, conn net.Conn, tag uint64, op afc.Operation, data, payload []byte) {
	t.Helper()
	thisLen := uint64(afcHeaderSize + len(data))
	totalLen := thisLen + uint64(len(payload))
	hdr := make([]byte, afcHeaderSize)
	copy(hdr[0:8], afc.Magic)
	binary.LittleEndian.PutUint64(hdr[8:16], totalLen)
	binary.LittleEndian.PutUint64(hdr[16:24], thisLen)
	binary.LittleEndian.PutUint64(hdr[24:32], tag)
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(op))
	_, err := conn.Write(hdr)
	require.NoError(t, err)
	if len(data) > 0 {
		_, err = conn.Write(data)
		require.NoError(t, err)
	}
	if len(payload) > 0 {
		_, err = conn.Write(payload)
		require.NoError(t, err)
	}
}

func writeAFCStatus(t *testing.T, conn net.Conn, tag uint64, status afc.Status) {
	t.Helper()
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(status))
	writeAFCReply(t, conn, tag, afc.OpStatus, data, nil)
}

func dialFakeSandbox(t *testing.T, addr string) *sandboxConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	client, err := afc.New(conn)
	require.NoError(t, err)
	return &sandboxConn{client: client, conn: conn}
}

func TestPushTestConfigurationRemovesStaleFilesAndPushes(t *testing.T) {
	sessionID := uuid.New()
	app := installation.InstalledApplication{
		Container: "/private/var/mobile/Containers/Data/Application/X",
		Raw:       map[string]any{"CFBundleExecutable": "ExampleUITests-Runner"},
	}

	addr := fakeSandboxAFCPeer(t, func(t *testing.T, conn net.Conn) {
		tag, op, _ := readAFCFrame(t, conn)
		require.Equal(t, afc.OpReadDir, op)
		names := []byte(".\x00..\x00stale.xctestconfiguration\x00keep.txt\x00")
		writeAFCReply(t, conn, tag, afc.OpData, names, nil)

		tag, op, data := readAFCFrame(t, conn)
		require.Equal(t, afc.OpRemovePath, op)
		require.Equal(t, "/tmp/stale.xctestconfiguration\x00", string(data))
		writeAFCStatus(t, conn, tag, afc.StatusSuccess)

		tag, op, _ = readAFCFrame(t, conn)
		require.Equal(t, afc.OpFileOpen, op)
		handle := make([]byte, 8)
		binary.LittleEndian.PutUint64(handle, 7)
		writeAFCReply(t, conn, tag, afc.OpFileOpenRes, handle, nil)

		for {
			tag, op, data = readAFCFrame(t, conn)
			if op == afc.OpFileClose {
				writeAFCStatus(t, conn, tag, afc.StatusSuccess)
				return
			}
			require.Equal(t, afc.OpWrite, op)
			require.NotEmpty(t, data)
			writeAFCStatus(t, conn, tag, afc.StatusSuccess)
		}
	})

	sandbox := dialFakeSandbox(t, addr)
	defer sandbox.Close()

	devicePath, absolutePath, err := pushTestConfiguration(nil, sandbox, app, "/private/var/.../PlugIns/ExampleUITests.xctest", sessionID)
	require.NoError(t, err)
	require.Contains(t, devicePath, targetName(app))
	require.Contains(t, devicePath, strings.ToUpper(sessionID.String()))
	require.Contains(t, absolutePath, app.Container)
}
