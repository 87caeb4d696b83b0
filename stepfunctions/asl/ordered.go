package asl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// object is a decoded JSON object that remembers member order. encoding/json
// decodes objects into Go maps, which lose the declaration order of States.
type object []member

type member struct {
	key   string
	value any
}

func (o object) get(key string) (any, bool) {
	for _, m := range o {
		if m.key == key {
			return m.value, true
		}
	}
	return nil, false
}

func (o object) str(key string) string {
	v, _ := o.get(key)
	s, _ := v.(string)
	return s
}

func (o object) boolean(key string) bool {
	v, _ := o.get(key)
	b, _ := v.(bool)
	return b
}

func (o object) obj(key string) (object, bool) {
	v, _ := o.get(key)
	child, ok := v.(object)
	return child, ok
}

func (o object) list(key string) []any {
	v, _ := o.get(key)
	items, _ := v.([]any)
	return items
}

func (o object) set(key string, value any) object {
	for i := range o {
		if o[i].key == key {
			o[i].value = value
			return o
		}
	}
	return append(o, member{key: key, value: value})
}

// decodeOrdered decodes a single JSON document, keeping object member order.
func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		o := object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			o = o.set(key, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return o, nil
	case '[':
		items := []any{}
		for dec.More() {
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// fromPlain converts an already-decoded tree into the ordered form. Map keys
// are sorted so that repeated conversions are stable.
func fromPlain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := make(object, 0, len(keys))
		for _, k := range keys {
			o = append(o, member{key: k, value: fromPlain(t[k])})
		}
		return o
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = fromPlain(item)
		}
		return items
	default:
		return v
	}
}

// toPlain converts the ordered form back into maps and slices for callers
// that treat a subtree as an opaque bag (Parameters, choice conditions).
func toPlain(v any) any {
	switch t := v.(type) {
	case object:
		m := make(map[string]any, len(t))
		for _, mem := range t {
			m[mem.key] = toPlain(mem.value)
		}
		return m
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = toPlain(item)
		}
		return items
	default:
		return v
	}
}
