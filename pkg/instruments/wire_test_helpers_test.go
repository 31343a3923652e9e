package instruments

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmq-project/tmq-ios/pkg/dtx"
	"github.com/tmq-project/tmq-ios/pkg/nskeyed"
)

// rawHeader mirrors dtx's 32-byte frame header; this test speaks the wire
// protocol directly rather than reaching into pkg/dtx's unexported frame
// machinery.
type rawHeader struct {
	fragmentID, fragmentCount     uint16
	payloadLength, messageID      uint32
	conversationIndex             uint32
	channelCode                   int32
	expectsReply                  uint32
}

func writeRawHeader(t *testing.T, conn net.Conn, h rawHeader) {
	t.Helper()
	var buf [32]byte
	binary.LittleEndian.PutUint32(buf[0:4], dtx.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], dtx.HeaderSize)
	binary.LittleEndian.PutUint16(buf[8:10], h.fragmentID)
	binary.LittleEndian.PutUint16(buf[10:12], h.fragmentCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.payloadLength)
	binary.LittleEndian.PutUint32(buf[16:20], h.messageID)
	binary.LittleEndian.PutUint32(buf[20:24], h.conversationIndex)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.channelCode))
	binary.LittleEndian.PutUint32(buf[28:32], h.expectsReply)
	_, err := conn.Write(buf[:])
	require.NoError(t, err)
}

func readRawHeader(t *testing.T, conn net.Conn) rawHeader {
	t.Helper()
	var buf [32]byte
	_, err := io.ReadFull(conn, buf[:])
	require.NoError(t, err)
	require.Equal(t, uint32(dtx.Magic), binary.LittleEndian.Uint32(buf[0:4]))
	return rawHeader{
		fragmentID:        binary.LittleEndian.Uint16(buf[8:10]),
		fragmentCount:     binary.LittleEndian.Uint16(buf[10:12]),
		payloadLength:     binary.LittleEndian.Uint32(buf[12:16]),
		messageID:         binary.LittleEndian.Uint32(buf[16:20]),
		conversationIndex: binary.LittleEndian.Uint32(buf[20:24]),
		channelCode:       int32(binary.LittleEndian.Uint32(buf[24:28])),
		expectsReply:      binary.LittleEndian.Uint32(buf[28:32]),
	}
}

// readRawMessage assumes a two-frame message (announce + single data
// frame), which is all dtx.writeMessage produces for the small payloads
// these tests exchange.
func readRawMessage(t *testing.T, conn net.Conn) (messageID uint32, conversationIndex uint32, channelCode int32, expectsReply bool, payload []byte) {
	t.Helper()
	announce := readRawHeader(t, conn)
	require.Equal(t, uint16(0), announce.fragmentID)

	if announce.fragmentCount <= 1 {
		payload = make([]byte, announce.payloadLength)
		if announce.payloadLength > 0 {
			_, err := io.ReadFull(conn, payload)
			require.NoError(t, err)
		}
		return announce.messageID, announce.conversationIndex, announce.channelCode, announce.expectsReply != 0, payload
	}

	data := readRawHeader(t, conn)
	payload = make([]byte, data.payloadLength)
	if data.payloadLength > 0 {
		_, err := io.ReadFull(conn, payload)
		require.NoError(t, err)
	}
	return announce.messageID, announce.conversationIndex, announce.channelCode, announce.expectsReply != 0, payload
}

func writeRawMessage(t *testing.T, conn net.Conn, messageID, conversationIndex uint32, channelCode int32, payload []byte) {
	t.Helper()
	writeRawHeader(t, conn, rawHeader{
		fragmentID: 0, fragmentCount: 2,
		messageID: messageID, conversationIndex: conversationIndex, channelCode: channelCode,
	})
	writeRawHeader(t, conn, rawHeader{
		fragmentID: 1, fragmentCount: 2, payloadLength: uint32(len(payload)),
		messageID: messageID, conversationIndex: conversationIndex, channelCode: channelCode,
	})
	if len(payload) > 0 {
		_, err := conn.Write(payload)
		require.NoError(t, err)
	}
}

func encodeRawPayload(flags uint32, argv, selector []byte) []byte {
	buf := make([]byte, 16+len(argv)+len(selector))
	binary.LittleEndian.PutUint32(buf[0:4], flags)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(argv)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(argv)+len(selector)))
	copy(buf[16:], argv)
	copy(buf[16+len(argv):], selector)
	return buf
}

func decodeRawPayload(raw []byte) (flags uint32, argv, selector []byte) {
	flags = binary.LittleEndian.Uint32(raw[0:4]) &^ 0x10000
	auxLen := binary.LittleEndian.Uint32(raw[4:8])
	total := binary.LittleEndian.Uint64(raw[8:16])
	body := raw[16:]
	return flags, body[:auxLen], body[auxLen:total]
}

const (
	flagsInvocation = 0x02
	flagsResult     = 0x03
	flagsNullReply  = 0x05
)

// serveInstrumentsConn runs the server half of the DTX handshake, acks
// every _requestChannelWithCode:identifier: call, and for every further
// invocation looks up onCall by selector: if it returns handled=true the
// returned value is archived and sent back as a result (or a null reply
// for a Null value); otherwise the invocation is acked with an empty
// reply.
func serveInstrumentsConn(t *testing.T, conn net.Conn, onCall func(selector string, args []dtx.Arg) (nskeyed.Value, bool)) {
	t.Helper()

	// capability handshake: a notification, no reply expected.
	_, _, _, expectsReply, _ := readRawMessage(t, conn)
	require.False(t, expectsReply)

	for {
		messageID, _, channelCode, expectsReply, payload := readRawMessage(t, conn)
		if len(payload) == 0 {
			return
		}
		flags, argvBytes, selectorBytes := decodeRawPayload(payload)
		if flags != flagsInvocation {
			continue
		}
		selectorValue, err := nskeyed.DecodeBytes(selectorBytes)
		require.NoError(t, err)
		selector := string(selectorValue.(nskeyed.String))

		if selector == "_requestChannelWithCode:identifier:" {
			writeRawMessage(t, conn, messageID, 1, channelCode, encodeRawPayload(flagsNullReply, nil, nil))
			continue
		}

		args, err := dtx.DecodeArgv(argvBytes)
		require.NoError(t, err)

		if !expectsReply {
			onCall(selector, args)
			continue
		}

		result, handled := onCall(selector, args)
		if !handled {
			writeRawMessage(t, conn, messageID, 1, channelCode, encodeRawPayload(flagsNullReply, nil, nil))
			continue
		}
		if _, isNull := result.(nskeyed.Null); isNull {
			writeRawMessage(t, conn, messageID, 1, channelCode, encodeRawPayload(flagsNullReply, nil, nil))
			continue
		}
		resultBytes, err := nskeyed.EncodeBytes(result)
		require.NoError(t, err)
		writeRawMessage(t, conn, messageID, 1, channelCode, encodeRawPayload(flagsResult, nil, resultBytes))
	}
}
