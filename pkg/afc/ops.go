package afc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// checkStatus raises a *StatusError unless pkt's status is success. It is
// meaningful to call this against any reply: a non-OpStatus reply (e.g.
// OpFileOpenRes) always carries an implicit StatusSuccess zero value.
func checkStatus(request, path string, pkt packet) error {
	if pkt.Status != StatusSuccess {
		return &StatusError{Request: request, Path: path, Status: pkt.Status}
	}
	return nil
}

// splitNulPairs parses the NUL-separated key, value, key, value, ...
// sequence ReadDirectory/GetFileInfo replies use.
func splitNulPairs(data []byte) []string {
	parts := bytes.Split(bytes.TrimSuffix(data, []byte{0}), []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, string(p))
	}
	return out
}

// ListDir lists the immediate entries of path, omitting "." and "..".
func (c *Client) ListDir(path string) ([]string, error) {
	pkt, err := c.request(OpReadDir, padName(path), nil)
	if err != nil {
		return nil, fmt.Errorf("afc: ListDir %q: %w", path, err)
	}
	if err := checkStatus("ListDir", path, pkt); err != nil {
		return nil, err
	}
	names := splitNulPairs(append(pkt.Data, pkt.Payload...))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || n == "." || n == ".." {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Mkdir creates path, including any missing parents the device creates implicitly.
func (c *Client) Mkdir(path string) error {
	pkt, err := c.request(OpMakeDir, padName(path), nil)
	if err != nil {
		return fmt.Errorf("afc: Mkdir %q: %w", path, err)
	}
	return checkStatus("Mkdir", path, pkt)
}

// Remove deletes a single file or empty directory.
func (c *Client) Remove(path string) error {
	pkt, err := c.request(OpRemovePath, padName(path), nil)
	if err != nil {
		return fmt.Errorf("afc: Remove %q: %w", path, err)
	}
	return checkStatus("Remove", path, pkt)
}

// Rename moves src to dst.
func (c *Client) Rename(src, dst string) error {
	data := append(padName(src), padName(dst)...)
	pkt, err := c.request(OpRenamePath, data, nil)
	if err != nil {
		return fmt.Errorf("afc: Rename %q -> %q: %w", src, dst, err)
	}
	return checkStatus("Rename", src, pkt)
}

// Exists reports whether path exists, treating ObjectNotFound specially
// rather than as an error.
func (c *Client) Exists(path string) (bool, error) {
	_, err := c.Stat(path)
	if err == nil {
		return true, nil
	}
	var statusErr *StatusError
	if asStatusError(err, &statusErr) && statusErr.Status == StatusObjectNotFound {
		return false, nil
	}
	return false, err
}

func asStatusError(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	*target = se
	return true
}

// Stat returns file metadata for path.
func (c *Client) Stat(path string) (FileInfo, error) {
	pkt, err := c.request(OpGetFileInfo, padName(path), nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("afc: Stat %q: %w", path, err)
	}
	if err := checkStatus("Stat", path, pkt); err != nil {
		return FileInfo{}, err
	}

	fi := FileInfo{Path: path}
	pairs := splitNulPairs(append(pkt.Data, pkt.Payload...))
	for i := 0; i+1 < len(pairs); i += 2 {
		key, val := pairs[i], pairs[i+1]
		switch key {
		case "st_size":
			fi.Size, _ = strconv.ParseInt(val, 10, 64)
		case "st_nlink":
			fi.Nlink, _ = strconv.ParseInt(val, 10, 64)
		case "st_ifmt":
			fi.IfMt = val
		case "st_mtime":
			fi.MtimeNanos, _ = strconv.ParseInt(val, 10, 64)
		case "st_birthtime":
			fi.BirthNanos, _ = strconv.ParseInt(val, 10, 64)
		case "LinkTarget":
			fi.LinkTarget = val
		}
	}
	return fi, nil
}

// RmTree removes path recursively, descending into directories itself
// since the device-side OpRemovePath only deletes empty directories.
func (c *Client) RmTree(path string) error {
	fi, err := c.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		entries, err := c.ListDir(path)
		if err != nil {
			return err
		}
		for _, name := range entries {
			if err := c.RmTree(joinPath(path, name)); err != nil {
				return err
			}
		}
	}
	return c.Remove(path)
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// WalkFunc is called once per visited path during a Walk.
type WalkFunc func(path string, info FileInfo) error

// Walk visits root and every descendant in depth-first order. When
// followLinks is false, symlinked directories are reported but not
// descended into.
func (c *Client) Walk(root string, followLinks bool, fn WalkFunc) error {
	fi, err := c.Stat(root)
	if err != nil {
		return err
	}
	if err := fn(root, fi); err != nil {
		return err
	}
	isDir := fi.IsDir()
	if fi.IsLink() {
		if !followLinks {
			return nil
		}
		target := fi.LinkTarget
		if !strings.HasPrefix(target, "/") {
			target = root[:strings.LastIndex(root, "/")+1] + target
		}
		tfi, err := c.Stat(target)
		isDir = err == nil && tfi.IsDir()
	}
	if !isDir {
		return nil
	}
	entries, err := c.ListDir(root)
	if err != nil {
		return err
	}
	for _, name := range entries {
		if err := c.Walk(joinPath(root, name), followLinks, fn); err != nil {
			return err
		}
	}
	return nil
}

// FileHandle is an open remote file reference returned by Open.
type FileHandle struct {
	c      *Client
	handle uint64
}

// Open opens path on the device in mode (one of the Mode* constants).
func (c *Client) Open(path string, mode uint64) (*FileHandle, error) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, mode)
	data = append(data, padName(path)...)

	pkt, err := c.request(OpFileOpen, data, nil)
	if err != nil {
		return nil, fmt.Errorf("afc: Open %q: %w", path, err)
	}
	if err := checkStatus("Open", path, pkt); err != nil {
		return nil, err
	}
	if len(pkt.Data) < 8 {
		return nil, fmt.Errorf("afc: Open %q: truncated handle reply", path)
	}
	handle := binary.LittleEndian.Uint64(pkt.Data[:8])
	return &FileHandle{c: c, handle: handle}, nil
}

// Read reads up to len(buf) bytes at the file's current position.
func (fh *FileHandle) Read(buf []byte) (int, error) {
	req := make([]byte, 16)
	binary.LittleEndian.PutUint64(req[0:8], fh.handle)
	binary.LittleEndian.PutUint64(req[8:16], uint64(len(buf)))

	pkt, err := fh.c.request(OpRead, req, nil)
	if err != nil {
		return 0, fmt.Errorf("afc: Read: %w", err)
	}
	if pkt.Status == StatusEndOfData {
		return 0, io.EOF
	}
	if err := checkStatus("Read", "", pkt); err != nil {
		return 0, err
	}
	n := copy(buf, pkt.Payload)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes buf at the file's current position.
func (fh *FileHandle) Write(buf []byte) (int, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint64(req, fh.handle)

	pkt, err := fh.c.request(OpWrite, req, buf)
	if err != nil {
		return 0, fmt.Errorf("afc: Write: %w", err)
	}
	if err := checkStatus("Write", "", pkt); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Close closes the remote file handle.
func (fh *FileHandle) Close() error {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint64(req, fh.handle)
	pkt, err := fh.c.request(OpFileClose, req, nil)
	if err != nil {
		return fmt.Errorf("afc: Close: %w", err)
	}
	return checkStatus("Close", "", pkt)
}

// Pull copies the remote file at path to w, streaming PullChunkSize bytes
// per read.
func (c *Client) Pull(path string, w io.Writer) error {
	fh, err := c.Open(path, ModeReadOnly)
	if err != nil {
		return err
	}
	defer fh.Close()

	buf := make([]byte, PullChunkSize)
	for {
		n, err := fh.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("afc: Pull %q: %w", path, werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("afc: Pull %q: %w", path, err)
		}
	}
}

// Push streams r to a new remote file at path, truncating any existing
// content, writing PushChunkSize bytes per request.
func (c *Client) Push(path string, r io.Reader) error {
	fh, err := c.Open(path, ModeWriteOnly)
	if err != nil {
		return err
	}
	defer fh.Close()

	buf := make([]byte, PushChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := fh.Write(buf[:n]); werr != nil {
				return fmt.Errorf("afc: Push %q: %w", path, werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("afc: Push %q: %w", path, err)
		}
	}
}
