package metrics

import (
	"encoding/json"
	"sort"
	"sync"
)

// Value is a recorded metric value: either a single observation or the
// series accumulated when the same name is recorded more than once.
// Modelled as a tagged union rather than runtime type inspection.
type Value struct {
	series bool
	single float64
	many   []float64
}

// Scalar returns a single-observation Value.
func Scalar(v float64) Value {
	return Value{single: v}
}

// Series returns a multi-observation Value.
func Series(vs ...float64) Value {
	return Value{series: true, many: vs}
}

// IsSeries reports whether the value holds more than one observation.
func (v Value) IsSeries() bool {
	return v.series
}

// Scalar returns the single observation. ok is false for a series.
func (v Value) Scalar() (value float64, ok bool) {
	if v.series {
		return 0, false
	}
	return v.single, true
}

// Series returns the observations. A scalar yields a one-element slice.
func (v Value) Series() []float64 {
	if !v.series {
		return []float64{v.single}
	}
	out := make([]float64, len(v.many))
	copy(out, v.many)
	return out
}

// Append adds an observation, converting a scalar into a series.
func (v Value) Append(f float64) Value {
	if !v.series {
		return Value{series: true, many: []float64{v.single, f}}
	}
	many := make([]float64, 0, len(v.many)+1)
	many = append(many, v.many...)
	many = append(many, f)
	return Value{series: true, many: many}
}

// MarshalJSON emits a bare number for a scalar and an array for a series.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.series {
		return json.Marshal(v.many)
	}
	return json.Marshal(v.single)
}

// Buffer accumulates named metric values between flushes. Recording the
// same name twice converts the stored value from scalar to series.
// Safe for concurrent use.
type Buffer struct {
	mu         sync.Mutex
	values     map[string]Value
	dimensions map[string]string
}

// NewBuffer creates an empty metric buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		values:     make(map[string]Value),
		dimensions: make(map[string]string),
	}
}

// Record adds one observation under the given name.
func (b *Buffer) Record(name string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.values[name]; ok {
		b.values[name] = existing.Append(value)
		return
	}
	b.values[name] = Scalar(value)
}

// SetDimension attaches a dimension emitted with every flush.
func (b *Buffer) SetDimension(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dimensions[name] = value
}

// Size returns the number of distinct metric names buffered.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.values)
}

// Names returns the buffered metric names in sorted order.
func (b *Buffer) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.values))
	for name := range b.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flush serializes the buffered values and dimensions to JSON and resets
// the buffer. Flushing an empty buffer returns nil.
func (b *Buffer) Flush() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.values) == 0 {
		return nil, nil
	}

	snapshot := struct {
		Dimensions map[string]string `json:"dimensions,omitempty"`
		Metrics    map[string]Value  `json:"metrics"`
	}{
		Dimensions: b.dimensions,
		Metrics:    b.values,
	}

	out, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	b.values = make(map[string]Value)
	return out, nil
}
