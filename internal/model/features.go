package model

import (
	"encoding/json"
	"sort"
	"time"
)

// ValueKind tags the type held by a feature Value.
type ValueKind uint8

const (
	KindUnknown ValueKind = iota
	KindNumber
	KindBool
	KindEnum
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a single typed feature value. The zero Value is Unknown.
type Value struct {
	Kind ValueKind
	num  float64
	b    bool
	str  string
	t    time.Time
}

// Unknown is the explicit sentinel for a missing signal.
var Unknown = Value{}

func Number(v float64) Value { return Value{Kind: KindNumber, num: v} }
func Bool(v bool) Value { return Value{Kind: KindBool, b: v} }
func Enum(v string) Value { return Value{Kind: KindEnum, str: v} }
func Time(v time.Time) Value { return Value{Kind: KindTime, t: v} }
func (v Value) Known() bool { return v.Kind != KindUnknown }
func (v Value) Num() float64 { return v.num }
func (v Value) Flag() bool { return v.b }
func (v Value) Str() string { return v.str }
func (v Value) At() time.Time { return v.t }

// NumberPtr returns Number(*p), or Unknown for nil.
func NumberPtr(p *float64) Value {
	if p == nil {
		return Unknown
	}
	return Number(*p)
}

// BoolPtr returns Bool(*p), or Unknown for nil.
func BoolPtr(p *bool) Value {
	if p == nil {
		return Unknown
	}
	return Bool(*p)
}

// TimePtr returns Time(*p), or Unknown for nil or zero times.
func TimePtr(p *time.Time) Value {
	if p == nil || p.IsZero() {
		return Unknown
	}
	return Time(*p)
}

// EnumOrUnknown returns Enum(s), or Unknown for the empty string.
func EnumOrUnknown(s string) Value {
	if s == "" {
		return Unknown
	}
	return Enum(s)
}

// MarshalJSON renders the value as its natural JSON type, null when unknown.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindEnum:
		return json.Marshal(v.str)
	case KindTime:
		return json.Marshal(v.t)
	default:
		return []byte("null"), nil
	}
}

// FeatureVector is an immutable mapping from feature name to value, built
// fresh for each scoring call.
type FeatureVector struct {
	EntityID    string
	EntityName  string
	OwnerID     string
	ExtractedAt time.Time
	values      map[string]Value
}

// NewFeatureVector copies values into a new vector. Every key in required
// that is absent from values is stored as Unknown.
func NewFeatureVector(entityID string, extractedAt time.Time, values map[string]Value, required []string) FeatureVector {
	m := make(map[string]Value, len(values)+len(required))
	for _, k := range required {
		m[k] = Unknown
	}
	for k, v := range values {
		m[k] = v
	}
	return FeatureVector{EntityID: entityID, ExtractedAt: extractedAt, values: m}
}

// Get returns the value for key; absent keys read as Unknown.
func (f FeatureVector) Get(key string) Value {
	return f.values[key]
}

// Has reports whether key is present, known or not.
func (f FeatureVector) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Number returns the numeric value for key and whether it is known.
func (f FeatureVector) Number(key string) (float64, bool) {
	v := f.values[key]
	return v.num, v.Kind == KindNumber
}

// Bool returns the boolean value for key and whether it is known.
func (f FeatureVector) Bool(key string) (bool, bool) {
	v := f.values[key]
	return v.b, v.Kind == KindBool
}

// Enum returns the enum value for key and whether it is known.
func (f FeatureVector) Enum(key string) (string, bool) {
	v := f.values[key]
	return v.str, v.Kind == KindEnum
}

// Time returns the time value for key and whether it is known.
func (f FeatureVector) Time(key string) (time.Time, bool) {
	v := f.values[key]
	return v.t, v.Kind == KindTime
}

// Len returns the number of keys in the vector.
func (f FeatureVector) Len() int {
	return len(f.values)
}

// Coverage returns the fraction of keys that hold a known value.
func (f FeatureVector) Coverage(keys []string) float64 {
	if len(keys) == 0 {
		return 0
	}
	known := 0
	for _, k := range keys {
		if f.values[k].Known() {
			known++
		}
	}
	return float64(known) / float64(len(keys))
}

// Keys returns the sorted key set.
func (f FeatureVector) Keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of the vector with key set to v.
func (f FeatureVector) With(key string, v Value) FeatureVector {
	m := make(map[string]Value, len(f.values)+1)
	for k, val := range f.values {
		m[k] = val
	}
	m[key] = v
	f.values = m
	return f
}

// MarshalJSON renders the vector's values keyed by feature name.
func (f FeatureVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EntityID    string           `json:"entity_id"`
		ExtractedAt time.Time        `json:"extracted_at"`
		Values      map[string]Value `json:"values"`
	}{f.EntityID, f.ExtractedAt, f.values})
}
