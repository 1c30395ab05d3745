// Package util holds small generic helpers shared across packages.
package util

// Ptr returns a pointer to the given value, for optional struct fields
// that distinguish unset from zero.
func Ptr[T any](v T) *T {
	return &v
}
