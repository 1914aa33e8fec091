// Package tensorshape defines the array-shape type shared by the data model
// and the device layer.
package tensorshape

import "fmt"

// Shape is the size of each dimension of an array, outermost first. A
// zero-length Shape describes a scalar.
type Shape []int64

// Prod returns the total element count, the product of all dimension sizes.
func (s Shape) Prod() int64 {
	var p int64 = 1
	for _, d := range s {
		p *= d
	}
	return p
}

// Equal reports whether two shapes describe the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}
