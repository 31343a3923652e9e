package testmanagerd

import (
	"context"
	"fmt"
	"net"

	"github.com/tmq-project/tmq-ios/pkg/afc"
	"github.com/tmq-project/tmq-ios/pkg/lockdown"
	"github.com/tmq-project/tmq-ios/pkg/muxsocket"
	"howett.net/plist"
)

// HouseArrestService is the lockdown service that, once sent a
// VendContainer command, turns its pipe into an AFC connection scoped to
// one app's sandbox container.
const HouseArrestService = "com.apple.mobile.house_arrest"

// sandboxConn is an AFC client scoped to one app's sandbox container,
// along with the raw pipe it owns so the driver can close it explicitly.
type sandboxConn struct {
	client *afc.Client
	conn   net.Conn
}

func (s *sandboxConn) Close() error {
	return s.conn.Close()
}

// openSandboxAFC starts HouseArrestService, requests bundleID's container,
// and wraps the resulting pipe as an AFC client. Some devices answer the
// VendContainer command with nothing before the first AFC frame and some
// with a status property list; afc.New already tolerates both.
func openSandboxAFC(ctx context.Context, session *lockdown.Session, bundleID string) (*sandboxConn, error) {
	conn, _, err := session.OpenService(ctx, HouseArrestService)
	if err != nil {
		return nil, fmt.Errorf("testmanagerd: open house_arrest: %w", err)
	}
	if err := vendContainer(conn, bundleID); err != nil {
		conn.Close()
		return nil, err
	}
	client, err := afc.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sandboxConn{client: client, conn: conn}, nil
}

func vendContainer(conn net.Conn, bundleID string) error {
	body, err := plist.Marshal(map[string]any{
		"Command":    "VendContainer",
		"Identifier": bundleID,
	}, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("testmanagerd: encode VendContainer: %w", err)
	}
	if err := muxsocket.NewFramer(conn).WriteFrame(body); err != nil {
		return fmt.Errorf("testmanagerd: send VendContainer: %w", err)
	}
	return nil
}
