package nskeyed

import (
	"fmt"
	"time"

	"howett.net/plist"
)

// Encode serializes a Value graph into the map[string]any shape
// plist.Marshal turns into an NSKeyedArchiver-compatible property list.
func Encode(v Value) map[string]any {
	e := &encoder{
		objects:    []any{"$null"},
		classCache: make(map[string]uint64),
	}
	root := e.put(v)
	return map[string]any{
		"$version":  int64(ExpectedVersion),
		"$archiver": ExpectedArchiver,
		"$top":      map[string]any{"root": plist.UID(root)},
		"$objects":  e.objects,
	}
}

// EncodeBytes serializes v and marshals it as a binary property list,
// the format testmanagerd and instruments expect on the wire.
func EncodeBytes(v Value) ([]byte, error) {
	data, err := plist.Marshal(Encode(v), plist.BinaryFormat)
	if err != nil {
		return nil, fmt.Errorf("nskeyed: marshal plist: %w", err)
	}
	return data, nil
}

type encoder struct {
	objects    []any
	classCache map[string]uint64
}

func (e *encoder) classRef(name string) uint64 {
	if uid, ok := e.classCache[name]; ok {
		return uid
	}
	hierarchy := classes(name)
	classObjects := make([]any, len(hierarchy))
	for i, c := range hierarchy {
		classObjects[i] = c
	}
	idx := uint64(len(e.objects))
	e.objects = append(e.objects, map[string]any{
		"$classes":   classObjects,
		"$classname": name,
	})
	e.classCache[name] = idx
	return idx
}

// reserve appends a placeholder and returns its index, so a container
// object takes its slot before its children are encoded and can refer
// forward to them while its contents are still being built.
func (e *encoder) reserve() uint64 {
	idx := uint64(len(e.objects))
	e.objects = append(e.objects, nil)
	return idx
}

func (e *encoder) put(v Value) uint64 {
	switch n := v.(type) {
	case Null, nil:
		return 0
	case Bool:
		idx := uint64(len(e.objects))
		e.objects = append(e.objects, bool(n))
		return idx
	case Int:
		idx := uint64(len(e.objects))
		e.objects = append(e.objects, int64(n))
		return idx
	case Real:
		idx := uint64(len(e.objects))
		e.objects = append(e.objects, float64(n))
		return idx
	case String:
		idx := uint64(len(e.objects))
		e.objects = append(e.objects, string(n))
		return idx
	case Data:
		idx := uint64(len(e.objects))
		e.objects = append(e.objects, []byte(n))
		return idx
	case Date:
		return e.putDate(n)
	case UUID:
		return e.putUUID(n)
	case Array:
		return e.putList("NSArray", []Value(n))
	case Set:
		return e.putList("NSSet", []Value(n))
	case Dict:
		return e.putDict(n)
	case URL:
		return e.putURL(n)
	case ArchivedError:
		return e.putError(n)
	case Exception:
		return e.putException(n)
	case TestConfiguration:
		return e.putClassedDict("XCTestConfiguration", n.Dict())
	case Ignored:
		idx := e.reserve()
		e.objects[idx] = map[string]any{"$class": plist.UID(e.classRef(n.ClassName))}
		return idx
	default:
		panic(fmt.Sprintf("nskeyed: cannot encode %T", v))
	}
}

func (e *encoder) putDate(d Date) uint64 {
	idx := e.reserve()
	secs := float64(time.Time(d).Sub(referenceDate)) / float64(time.Second)
	e.objects[idx] = map[string]any{
		"$class":  plist.UID(e.classRef("NSDate")),
		"NS.time": secs,
	}
	return idx
}

func (e *encoder) putUUID(u UUID) uint64 {
	idx := e.reserve()
	e.objects[idx] = map[string]any{
		"$class":        plist.UID(e.classRef("NSUUID")),
		"NS.uuidbytes": append([]byte(nil), u[:]...),
	}
	return idx
}

func (e *encoder) putList(className string, items []Value) uint64 {
	idx := e.reserve()
	refs := make([]any, len(items))
	for i, item := range items {
		refs[i] = plist.UID(e.put(item))
	}
	e.objects[idx] = map[string]any{
		"$class":     plist.UID(e.classRef(className)),
		"NS.objects": refs,
	}
	return idx
}

func (e *encoder) putDict(d Dict) uint64 {
	return e.putClassedDict("NSDictionary", d)
}

func (e *encoder) putClassedDict(className string, d Dict) uint64 {
	idx := e.reserve()
	keys := make([]any, len(d))
	values := make([]any, len(d))
	for i, entry := range d {
		keys[i] = plist.UID(e.put(entry.Key))
		values[i] = plist.UID(e.put(entry.Value))
	}
	e.objects[idx] = map[string]any{
		"$class":     plist.UID(e.classRef(className)),
		"NS.keys":    keys,
		"NS.objects": values,
	}
	return idx
}

func (e *encoder) putURL(u URL) uint64 {
	idx := e.reserve()
	obj := map[string]any{"$class": plist.UID(e.classRef("NSURL"))}
	if u.Relative != "" {
		obj["NS.relative"] = plist.UID(e.put(String(u.Relative)))
	}
	if u.Base != "" {
		obj["NS.base"] = plist.UID(e.put(String(u.Base)))
	}
	e.objects[idx] = obj
	return idx
}

func (e *encoder) putError(err ArchivedError) uint64 {
	idx := e.reserve()
	obj := map[string]any{
		"$class":  plist.UID(e.classRef("NSError")),
		"NSCode": int64(err.Code),
	}
	if err.Domain != "" {
		obj["NSDomain"] = plist.UID(e.put(String(err.Domain)))
	}
	if err.UserInfo != nil {
		obj["NSUserInfo"] = plist.UID(e.put(err.UserInfo))
	}
	e.objects[idx] = obj
	return idx
}

func (e *encoder) putException(ex Exception) uint64 {
	idx := e.reserve()
	obj := map[string]any{"$class": plist.UID(e.classRef("NSException"))}
	if ex.Name != "" {
		obj["NSName"] = plist.UID(e.put(String(ex.Name)))
	}
	if ex.Reason != "" {
		obj["NSReason"] = plist.UID(e.put(String(ex.Reason)))
	}
	if ex.UserInfo != nil {
		obj["NSUserInfo"] = plist.UID(e.put(ex.UserInfo))
	}
	e.objects[idx] = obj
	return idx
}
