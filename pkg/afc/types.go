package afc

import "fmt"

// Magic is the 8-byte value every AFC frame header begins with.
const Magic = "CFA6LPAA"

// headerSize is the fixed size of an AFC frame header: magic(8) +
// length(8) + thisLength(8) + tag(8) + operation(8).
const headerSize = 40

// Operation identifies an AFC request or reply kind.
type Operation uint64

// Operation values, per the device-side AFC service.
const (
	OpInvalid        Operation = 0x00
	OpStatus         Operation = 0x01
	OpData           Operation = 0x02
	OpReadDir        Operation = 0x03
	OpReadFile       Operation = 0x04
	OpWriteFile      Operation = 0x05
	OpWritePart      Operation = 0x06
	OpTruncate       Operation = 0x07
	OpRemovePath     Operation = 0x08
	OpMakeDir        Operation = 0x09
	OpGetFileInfo    Operation = 0x0A
	OpGetDevInfo     Operation = 0x0B
	OpWriteFileAtom  Operation = 0x0C
	OpFileOpen       Operation = 0x0D
	OpFileOpenRes    Operation = 0x0E
	OpRead           Operation = 0x0F
	OpWrite          Operation = 0x10
	OpFileSeek       Operation = 0x11
	OpFileTell       Operation = 0x12
	OpFileTellRes    Operation = 0x13
	OpFileClose      Operation = 0x14
	OpFileSetSize    Operation = 0x15
	OpGetConInfo     Operation = 0x16
	OpSetConOptions  Operation = 0x17
	OpRenamePath     Operation = 0x18
	OpSetFSBlockSize Operation = 0x19
	OpSetSockBlockSz Operation = 0x1A
	OpFileLock       Operation = 0x1B
	OpMakeLink       Operation = 0x1C
	OpSetFileTime    Operation = 0x1E
	OpGetFileHashRng Operation = 0x1F
)

// Open modes, per OpFileOpen's mode argument.
const (
	ModeReadOnly   uint64 = 0x01
	ModeReadWrite  uint64 = 0x02
	ModeWriteOnly  uint64 = 0x03
	ModeWrite      uint64 = 0x04
	ModeAppend     uint64 = 0x05
	ModeReadAppend uint64 = 0x06
)

// PullChunkSize and PushChunkSize bound a single read/write request's
// payload, per the protocol's streaming convention.
const (
	PullChunkSize = 32 * 1024
	PushChunkSize = 32 * 1024
)

// Status is the AFC result code returned in an OpStatus reply.
type Status uint64

// Status values.
const (
	StatusSuccess           Status = 0
	StatusUnknownError       Status = 1
	StatusOpHeaderInvalid    Status = 2
	StatusNoResources        Status = 3
	StatusReadError          Status = 4
	StatusWriteError         Status = 5
	StatusUnknownPacketType  Status = 6
	StatusInvalidArg         Status = 7
	StatusObjectNotFound     Status = 8
	StatusObjectIsDir        Status = 9
	StatusPermDenied         Status = 10
	StatusServiceNotConnected Status = 11
	StatusOpTimeout          Status = 12
	StatusTooMuchData        Status = 13
	StatusEndOfData          Status = 14
	StatusOpNotSupported     Status = 15
	StatusObjectExists       Status = 16
	StatusObjectBusy         Status = 17
	StatusNoSpaceLeft        Status = 18
	StatusOpWouldBlock       Status = 19
	StatusIOError            Status = 20
	StatusOpInterrupted      Status = 21
	StatusOpInProgress       Status = 22
	StatusInternalError      Status = 23
	StatusMuxError           Status = 30
	StatusNoMem              Status = 31
	StatusNotEnoughData      Status = 32
	StatusDirNotEmpty        Status = 33
)

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint64(s))
}

var statusNames = map[Status]string{
	StatusSuccess:             "Success",
	StatusUnknownError:        "UnknownError",
	StatusOpHeaderInvalid:     "OpHeaderInvalid",
	StatusNoResources:         "NoResources",
	StatusReadError:           "ReadError",
	StatusWriteError:          "WriteError",
	StatusUnknownPacketType:   "UnknownPacketType",
	StatusInvalidArg:          "InvalidArg",
	StatusObjectNotFound:      "ObjectNotFound",
	StatusObjectIsDir:         "ObjectIsDir",
	StatusPermDenied:          "PermDenied",
	StatusServiceNotConnected: "ServiceNotConnected",
	StatusOpTimeout:           "OpTimeout",
	StatusTooMuchData:         "TooMuchData",
	StatusEndOfData:           "EndOfData",
	StatusOpNotSupported:      "OpNotSupported",
	StatusObjectExists:        "ObjectExists",
	StatusObjectBusy:          "ObjectBusy",
	StatusNoSpaceLeft:         "NoSpaceLeft",
	StatusOpWouldBlock:        "OpWouldBlock",
	StatusIOError:             "IOError",
	StatusOpInterrupted:       "OpInterrupted",
	StatusOpInProgress:        "OpInProgress",
	StatusInternalError:       "InternalError",
	StatusMuxError:            "MuxError",
	StatusNoMem:               "NoMem",
	StatusNotEnoughData:       "NotEnoughData",
	StatusDirNotEmpty:         "DirNotEmpty",
}

// StatusError wraps a non-success AFC status for a named request.
type StatusError struct {
	Request string
	Path    string
	Status  Status
}

func (e *StatusError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("afc: %s %q: %s", e.Request, e.Path, e.Status)
	}
	return fmt.Sprintf("afc: %s: %s", e.Request, e.Status)
}

// FileInfo is the decoded reply of a GetFileInfo request.
type FileInfo struct {
	Path       string
	Size       int64
	Nlink      int64
	IfMt       string // raw st_ifmt value, e.g. "S_IFDIR", "S_IFREG", "S_IFLNK"
	MtimeNanos int64
	BirthNanos int64
	LinkTarget string // set only when IfMt == "S_IFLNK"
}

// IsDir reports whether this entry is a directory.
func (fi FileInfo) IsDir() bool { return fi.IfMt == "S_IFDIR" }

// IsLink reports whether this entry is a symlink.
func (fi FileInfo) IsLink() bool { return fi.IfMt == "S_IFLNK" }
