package domain

import (
	"bytes"
	"strconv"

	"formrelay/pkg/safejson"
)

// Payload is the ordered label -> value mapping sent downstream.
// Overwriting a key keeps its original position.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload creates an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set stores value under key.
func (p *Payload) Set(key string, value any) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the value under key rendered as text. Missing keys and
// nil values yield ok=false.
func (p *Payload) GetString(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return "", false
	}
	return Stringify(v), true
}

func (p *Payload) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *Payload) Len() int {
	return len(p.keys)
}

// Merge appends every entry of other, in its order.
func (p *Payload) Merge(other *Payload) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
}

// WithPrefix returns a copy whose keys all carry prefix.
func (p *Payload) WithPrefix(prefix string) *Payload {
	out := NewPayload()
	for _, k := range p.keys {
		out.Set(prefix+k, p.values[k])
	}
	return out
}

// ToMap returns an unordered copy.
func (p *Payload) ToMap() map[string]any {
	out := make(map[string]any, len(p.keys))
	for _, k := range p.keys {
		out[k] = p.values[k]
	}
	return out
}

// MarshalJSON renders the payload as a JSON object in insertion order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(safejson.Marshal(k))
		buf.WriteByte(':')
		buf.Write(safejson.Marshal(p.values[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Stringify renders a scalar the way form plugins do: true is "1", false and
// nil are empty, numbers use their shortest form. Structured values are
// encoded as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	}
	return safejson.String(v)
}

// IsScalar reports whether v is a string, number or bool.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int64, int32, uint, uint64:
		return true
	}
	return false
}
