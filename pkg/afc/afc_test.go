package afc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAFCPeer accepts one connection and runs logic against the raw conn,
// mirroring the wire protocol a device-side afcd would speak.
func fakeAFCPeer(t *testing.T, logic func(t *testing.T, conn net.Conn)) string {
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

func readFrame(t *testing.T, conn net.Conn) (tag uint64, op Operation, data []byte) {
	t.Helper()
	var hdr [headerSize]byte
	_, err := io.ReadFull(conn, hdr[:])
	require.NoError(t, err)
	require.Equal(t, Magic, string(hdr[0:8]))
	totalLen := binary.LittleEndian.Uint64(hdr[8:16])
	tag = binary.LittleEndian.Uint64(hdr[24:32])
	op = Operation(binary.LittleEndian.Uint64(hdr[32:40]))
	body := make([]byte, totalLen-headerSize)
	if len(body) > 0 {
		_, err = io.ReadFull(conn, body)
		require.NoError(t, err)
	}
	return tag, op, body
}

func writeStatusReply(t *testing.T, conn net.Conn, tag uint64, status Status) {
	t.Helper()
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(status))
	writeReply(t, conn, tag, OpStatus, data, nil)
}

func writeReply(t *testing.T, conn net.Conn, tag uint64, op Operation, data, payload []byte) {
	t.Helper()
	thisLen := uint64(headerSize + len(data))
	totalLen := thisLen + uint64(len(payload))
	hdr := make([]byte, headerSize)
	copy(hdr[0:8], Magic)
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

func dialFakeAFC(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	c, err := New(conn)
	require.NoError(t, err)
	return c
}

func TestListDirAndStat(t *testing.T) {
	addr := fakeAFCPeer(t, func(t *testing.T, conn net.Conn) {
		tag, op, _ := readFrame(t, conn)
		require.Equal(t, OpReadDir, op)
		names := []byte(".\x00..\x00Documents\x00a.txt\x00")
		writeReply(t, conn, tag, OpData, names, nil)

		tag, op, _ = readFrame(t, conn)
		require.Equal(t, OpGetFileInfo, op)
		info := []byte("st_size\x0012\x00st_nlink\x001\x00st_ifmt\x00S_IFREG\x00st_mtime\x001000\x00st_birthtime\x00500\x00")
		writeReply(t, conn, tag, OpData, info, nil)
	})

	c := dialFakeAFC(t, addr)
	defer c.Close()

	entries, err := c.ListDir("/")
	require.NoError(t, err)
	require.Equal(t, []string{"Documents", "a.txt"}, entries)

	fi, err := c.Stat("/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(12), fi.Size)
	require.Equal(t, "S_IFREG", fi.IfMt)
	require.False(t, fi.IsDir())
}

func TestStatObjectNotFoundSurfacesStatusError(t *testing.T) {
	addr := fakeAFCPeer(t, func(t *testing.T, conn net.Conn) {
		tag, _, _ := readFrame(t, conn)
		writeStatusReply(t, conn, tag, StatusObjectNotFound)
	})
	c := dialFakeAFC(t, addr)
	defer c.Close()

	_, err := c.Stat("/missing")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StatusObjectNotFound, se.Status)
}

func TestPullStreamsInChunks(t *testing.T) {
	content := bytes.Repeat([]byte("x"), PullChunkSize+10)

	addr := fakeAFCPeer(t, func(t *testing.T, conn net.Conn) {
		tag, op, _ := readFrame(t, conn)
		require.Equal(t, OpFileOpen, op)
		handleReply := make([]byte, 8)
		binary.LittleEndian.PutUint64(handleReply, 1)
		writeReply(t, conn, tag, OpFileOpenRes, handleReply, nil)

		sent := 0
		for sent < len(content) {
			tag, op, _ = readFrame(t, conn)
			require.Equal(t, OpRead, op)
			end := sent + PullChunkSize
			if end > len(content) {
				end = len(content)
			}
			writeReply(t, conn, tag, OpData, nil, content[sent:end])
			sent = end
		}
		tag, op, _ = readFrame(t, conn)
		require.Equal(t, OpRead, op)
		writeStatusReply(t, conn, tag, StatusEndOfData)

		tag, op, _ = readFrame(t, conn)
		require.Equal(t, OpFileClose, op)
		writeStatusReply(t, conn, tag, StatusSuccess)
	})

	c := dialFakeAFC(t, addr)
	defer c.Close()

	var out bytes.Buffer
	require.NoError(t, c.Pull("/big.bin", &out))
	require.Equal(t, content, out.Bytes())
}

func TestNewConsumesLeadingStatusPlist(t *testing.T) {
	addr := fakeAFCPeer(t, func(t *testing.T, conn net.Conn) {
		plistBody := []byte(`<?xml version="1.0" encoding="UTF-8"?><!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd"><plist version="1.0"><dict/></plist>`)
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(plistBody)))
		conn.Write(lenPrefix[:])
		conn.Write(plistBody)

		tag, op, _ := readFrame(t, conn)
		require.Equal(t, OpReadDir, op)
		writeReply(t, conn, tag, OpData, []byte("\x00"), nil)
	})

	c := dialFakeAFC(t, addr)
	defer c.Close()

	entries, err := c.ListDir("/")
	require.NoError(t, err)
	require.Empty(t, entries)
}
