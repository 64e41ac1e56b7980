// Package querykey provides structural, deeply comparable cache keys.
//
// A Key is an ordered sequence of parts. Two keys are equal iff their
// canonical serializations match: sequence order is significant, map and Set
// contents are compared regardless of order.
package querykey

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Set is an unordered collection of parts. Two Sets with the same elements in
// different order canonicalize identically.
type Set []any

// Key is an immutable, structurally comparable identifier for a cached query.
// The zero Key is valid and equal to New() with no parts.
type Key struct {
	parts     []any
	canonical string
}

// New builds a Key from an ordered sequence of parts. Parts may be
// primitives, slices, maps, Sets, or JSON-marshalable structs; the canonical
// form is computed once here.
func New(parts ...any) Key {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeCanonical(&sb, reflect.ValueOf(p))
	}
	sb.WriteByte(']')
	return Key{parts: parts, canonical: sb.String()}
}

// Canonical returns the canonical serialization used for equality and as the
// cache's map key.
func (k Key) Canonical() string {
	if k.canonical == "" {
		return "[]"
	}
	return k.canonical
}

// Equal reports whether two keys are structurally equal.
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// Parts returns the key's parts in order. The returned slice must not be
// mutated.
func (k Key) Parts() []any {
	return k.parts
}

// String implements fmt.Stringer for log output.
func (k Key) String() string {
	return k.Canonical()
}

func writeCanonical(sb *strings.Builder, v reflect.Value) {
	if !v.IsValid() {
		sb.WriteString("null")
		return
	}

	// Unwrap interfaces and pointers down to the concrete value.
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			sb.WriteString("null")
			return
		}
		v = v.Elem()
	}

	if v.Type() == reflect.TypeOf(Set(nil)) {
		writeSet(sb, v)
		return
	}

	switch v.Kind() {
	case reflect.Bool:
		sb.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sb.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		sb.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.String:
		quoted, _ := json.Marshal(v.String())
		sb.Write(quoted)
	case reflect.Slice, reflect.Array:
		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, v.Index(i))
		}
		sb.WriteByte(']')
	case reflect.Map:
		writeMap(sb, v)
	default:
		// Structs and anything else fall back to JSON, which is deterministic
		// for a fixed type (fields serialize in declaration order).
		encoded, err := json.Marshal(v.Interface())
		if err != nil {
			sb.WriteString(fmt.Sprintf("%#v", v.Interface()))
			return
		}
		sb.Write(encoded)
	}
}

// writeMap serializes entries sorted by the canonical form of their keys, so
// insertion and iteration order never affect equality.
func writeMap(sb *strings.Builder, v reflect.Value) {
	entries := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var entry strings.Builder
		writeCanonical(&entry, iter.Key())
		entry.WriteByte(':')
		writeCanonical(&entry, iter.Value())
		entries = append(entries, entry.String())
	}
	sort.Strings(entries)

	sb.WriteByte('{')
	sb.WriteString(strings.Join(entries, ","))
	sb.WriteByte('}')
}

// writeSet serializes elements sorted by canonical form.
func writeSet(sb *strings.Builder, v reflect.Value) {
	elems := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		var elem strings.Builder
		writeCanonical(&elem, v.Index(i))
		elems = append(elems, elem.String())
	}
	sort.Strings(elems)

	sb.WriteByte('(')
	sb.WriteString(strings.Join(elems, ","))
	sb.WriteByte(')')
}
