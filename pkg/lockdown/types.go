package lockdown

import (
	"fmt"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
)

// Port is the well-known lockdown TCP port exposed by every device.
const Port uint16 = 62078

// ServiceEndpoint is the result of StartService: a port to open as a fresh
// mux-pipe, optionally upgraded to TLS before handing it to the
// service-specific client.
type ServiceEndpoint struct {
	Name             string
	Port             uint16
	EnableServiceSSL bool
	// SSLDialOnly is true for the four DTX-bearing services that
	// TLS-handshake purely as an authorization gate, then revert to
	// plaintext (see dialOnlyServices).
	SSLDialOnly bool
}

// dialOnlyServices upgrade their socket in dial-only mode: the TLS
// handshake authorizes the connection, then traffic reverts to plaintext.
var dialOnlyServices = map[string]bool{
	"com.apple.instruments.remoteserver":                 true,
	"com.apple.debugserver":                              true,
	"com.apple.testmanagerd.lockdown":                    true,
	"com.apple.accessibility.axAuditDaemon.remoteserver": true,
}

func isDialOnlyService(name string) bool {
	return dialOnlyServices[name]
}

// ServiceError reports a device-side error embedded in a property-list
// reply, e.g. InvalidService, PasswordProtected.
type ServiceError struct {
	Request string
	Code    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("lockdown: %s failed: %s", e.Request, e.Code)
}

// Kind reports this as ioserr.KindService.
func (e *ServiceError) Kind() ioserr.Kind { return ioserr.KindService }

// Well-known device-side error codes referenced by the session state
// machine.
const (
	errInvalidHostID = "InvalidHostID"
	errInvalidService = "InvalidService"
	errPasswordProtected = "PasswordProtected"
	errPairingDialogResponsePending = "PairingDialogResponsePending"
)
