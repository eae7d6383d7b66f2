// Package vector provides sparse named feature and weight vectors.
package vector

import (
	"sort"
	"strconv"
	"strings"
)

// Vector is a sparse mapping from feature name to value. It is used both for
// feature values and for model weights.
type Vector map[string]float64

// New creates an empty vector.
func New() Vector {
	return make(Vector)
}

// Get returns the value for name, or 0 if absent.
func (v Vector) Get(name string) float64 {
	return v[name]
}

// Set stores a value. Setting 0 removes the entry.
func (v Vector) Set(name string, val float64) {
	if val == 0 {
		delete(v, name)
		return
	}
	v[name] = val
}

// Increment adds val to the entry for name.
func (v Vector) Increment(name string, val float64) {
	v.Set(name, v[name]+val)
}

// Add adds other element-wise into v.
func (v Vector) Add(other Vector) {
	for name, val := range other {
		v.Increment(name, val)
	}
}

// Subtract subtracts other element-wise from v.
func (v Vector) Subtract(other Vector) {
	for name, val := range other {
		v.Increment(name, -val)
	}
}

// Scale multiplies every entry by f.
func (v Vector) Scale(f float64) {
	if f == 0 {
		clear(v)
		return
	}
	for name := range v {
		v[name] *= f
	}
}

// Dot computes the inner product with another vector, summing in name
// order so the result does not depend on map iteration.
func (v Vector) Dot(other Vector) float64 {
	a, b := v, other
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for _, name := range a.Names() {
		sum += a[name] * b[name]
	}
	return sum
}

// Clone returns a copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for name, val := range v {
		out[name] = val
	}
	return out
}

// Names returns the feature names in sorted order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String formats the vector as space-separated "name=value" pairs, sorted by name.
func (v Vector) String() string {
	var b strings.Builder
	for i, name := range v.Names() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v[name], 'g', -1, 64))
	}
	return b.String()
}
