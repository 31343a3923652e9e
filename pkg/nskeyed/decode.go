// Package nskeyed decodes and encodes the subset of Apple's
// NSKeyedArchiver object-graph property-list format that DTX payloads
// carry: a top-level container with $version, $archiver, $top, and
// $objects, where $top.root and every inter-object reference is a UID
// index into $objects.
package nskeyed

import (
	"errors"
	"fmt"
	"time"

	"github.com/tmq-project/tmq-ios/pkg/ioserr"
	"howett.net/plist"
)

// ExpectedVersion is the only archiver version this package accepts.
const ExpectedVersion = 100000

// ExpectedArchiver is the only $archiver name this package accepts.
const ExpectedArchiver = "NSKeyedArchiver"

// referenceDate is the NSDate epoch: 2001-01-01 00:00:00 UTC.
var referenceDate = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// DecodeUnsupported is returned when an archived object's class name has
// no known decoding and is not on the ignore allow-list.
type DecodeUnsupported struct {
	ClassName string
}

func (e *DecodeUnsupported) Error() string {
	return fmt.Sprintf("nskeyed: unsupported archived class %q", e.ClassName)
}

// Kind reports this as ioserr.KindDecodeUnsupported.
func (e *DecodeUnsupported) Kind() ioserr.Kind { return ioserr.KindDecodeUnsupported }

var errMalformed = errors.New("nskeyed: malformed archive")

// ignoredClasses decode to Ignored rather than being rejected: heartbeat
// and status taps, capability dictionaries, and raw attachment data that
// DTX payloads carry but this client has no use for.
var ignoredClasses = map[string]bool{
	"DTTapHeartbeatMessage": true,
	"DTTapStatusMessage":    true,
	"DTSysmonTapMessage":    true,
	"XCTCapabilities":       true,
	"NSMutableData":         true,
}

// Decode parses a full NSKeyedArchiver-shaped property list (as produced
// by plist.Unmarshal into map[string]any) into the graph rooted at
// $top.root.
func Decode(archive map[string]any) (Value, error) {
	version, ok := toInt(archive["$version"])
	if !ok || version != ExpectedVersion {
		return nil, fmt.Errorf("%w: unexpected $version %v", errMalformed, archive["$version"])
	}
	archiver, _ := archive["$archiver"].(string)
	if archiver != ExpectedArchiver {
		return nil, fmt.Errorf("%w: unexpected $archiver %q", errMalformed, archiver)
	}
	objects, ok := archive["$objects"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing $objects", errMalformed)
	}
	top, ok := archive["$top"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing $top", errMalformed)
	}
	rootUID, ok := toUID(top["root"])
	if !ok {
		return nil, fmt.Errorf("%w: missing $top.root", errMalformed)
	}

	d := &decoder{objects: objects, memo: make(map[uint64]Value)}
	return d.resolve(rootUID)
}

// DecodeBytes unmarshals raw plist bytes and decodes the archive.
func DecodeBytes(data []byte) (Value, error) {
	var archive map[string]any
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("nskeyed: unmarshal plist: %w", err)
	}
	return Decode(archive)
}

type decoder struct {
	objects []any
	memo    map[uint64]Value
}

func (d *decoder) resolve(uid uint64) (Value, error) {
	if v, ok := d.memo[uid]; ok {
		return v, nil
	}
	if int(uid) >= len(d.objects) {
		return nil, fmt.Errorf("%w: uid %d out of range", errMalformed, uid)
	}
	raw := d.objects[uid]
	v, err := d.decodeNode(raw)
	if err != nil {
		return nil, err
	}
	d.memo[uid] = v
	return v, nil
}

func (d *decoder) decodeNode(raw any) (Value, error) {
	switch n := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		if n == "$null" {
			return Null{}, nil
		}
		return String(n), nil
	case bool:
		return Bool(n), nil
	case int64:
		return Int(n), nil
	case uint64:
		return Int(int64(n)), nil
	case float64:
		return Real(n), nil
	case []byte:
		return Data(n), nil
	case map[string]any:
		return d.decodeObject(n)
	default:
		return nil, fmt.Errorf("%w: unrecognized object kind %T", errMalformed, raw)
	}
}

func (d *decoder) decodeObject(obj map[string]any) (Value, error) {
	className, err := d.classNameOf(obj)
	if err != nil {
		return nil, err
	}

	switch className {
	case "NSNull":
		return Null{}, nil
	case "NSDictionary", "NSMutableDictionary":
		return d.decodeDict(obj)
	case "NSArray", "NSMutableArray", "NSOrderedSet", "NSMutableOrderedSet":
		items, err := d.decodeObjectsList(obj, "NS.objects")
		if err != nil {
			return nil, err
		}
		return Array(items), nil
	case "NSSet", "NSMutableSet":
		items, err := d.decodeObjectsList(obj, "NS.objects")
		if err != nil {
			return nil, err
		}
		return Set(items), nil
	case "NSDate":
		secs, _ := obj["NS.time"].(float64)
		return Date(referenceDate.Add(time.Duration(secs * float64(time.Second)))), nil
	case "NSUUID":
		raw, _ := obj["NS.uuidbytes"].([]byte)
		var u UUID
		copy(u[:], raw)
		return u, nil
	case "NSURL":
		base, err := d.decodeOptionalString(obj, "NS.base")
		if err != nil {
			return nil, err
		}
		relative, err := d.decodeOptionalString(obj, "NS.relative")
		if err != nil {
			return nil, err
		}
		return URL{Base: base, Relative: relative}, nil
	case "NSError":
		code, _ := toInt(obj["NSCode"])
		domain, err := d.decodeOptionalString(obj, "NSDomain")
		if err != nil {
			return nil, err
		}
		var userInfo Value = Null{}
		if uid, ok := toUID(obj["NSUserInfo"]); ok {
			userInfo, err = d.resolve(uid)
			if err != nil {
				return nil, err
			}
		}
		return ArchivedError{Code: code, Domain: domain, UserInfo: userInfo}, nil
	case "NSException":
		name, err := d.decodeOptionalString(obj, "NSName")
		if err != nil {
			return nil, err
		}
		reason, err := d.decodeOptionalString(obj, "NSReason")
		if err != nil {
			return nil, err
		}
		var userInfo Value = Null{}
		if uid, ok := toUID(obj["NSUserInfo"]); ok {
			userInfo, err = d.resolve(uid)
			if err != nil {
				return nil, err
			}
		}
		return Exception{Name: name, Reason: reason, UserInfo: userInfo}, nil
	case "XCTestConfiguration":
		return d.decodeTestConfiguration(obj)
	case "DTActivityTraceTapMessage":
		dict, err := d.decodeDict(obj)
		if err != nil {
			return nil, err
		}
		return ActivityRecord{Fields: dict.(Dict)}, nil
	default:
		if ignoredClasses[className] {
			return Ignored{ClassName: className}, nil
		}
		return nil, &DecodeUnsupported{ClassName: className}
	}
}

func (d *decoder) classNameOf(obj map[string]any) (string, error) {
	uid, ok := toUID(obj["$class"])
	if !ok {
		return "", fmt.Errorf("%w: object missing $class", errMalformed)
	}
	if int(uid) >= len(d.objects) {
		return "", fmt.Errorf("%w: $class uid out of range", errMalformed)
	}
	classObj, ok := d.objects[uid].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: $class entry is not a dictionary", errMalformed)
	}
	name, _ := classObj["$classname"].(string)
	if name == "" {
		return "", fmt.Errorf("%w: $classname missing", errMalformed)
	}
	return name, nil
}

func (d *decoder) decodeObjectsList(obj map[string]any, key string) ([]Value, error) {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil, nil
	}
	items := make([]Value, 0, len(raw))
	for _, elem := range raw {
		uid, ok := toUID(elem)
		if !ok {
			return nil, fmt.Errorf("%w: %s entry is not a uid", errMalformed, key)
		}
		v, err := d.resolve(uid)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (d *decoder) decodeDict(obj map[string]any) (Value, error) {
	keys, err := d.decodeObjectsList(obj, "NS.keys")
	if err != nil {
		return nil, err
	}
	values, err := d.decodeObjectsList(obj, "NS.objects")
	if err != nil {
		return nil, err
	}
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: dictionary key/value length mismatch", errMalformed)
	}
	entries := make(Dict, len(keys))
	for i := range keys {
		entries[i] = DictEntry{Key: keys[i], Value: values[i]}
	}
	return entries, nil
}

func (d *decoder) decodeOptionalString(obj map[string]any, key string) (string, error) {
	uid, ok := toUID(obj[key])
	if !ok {
		return "", nil
	}
	v, err := d.resolve(uid)
	if err != nil {
		return "", err
	}
	s, _ := v.(String)
	return string(s), nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func toUID(v any) (uint64, bool) {
	switch n := v.(type) {
	case plist.UID:
		return uint64(n), true
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	default:
		return 0, false
	}
}
