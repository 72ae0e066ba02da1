package common

// Coalesce returns the first of values that is not the zero value of T, or the zero
// value when there is none. Command buffers use it to fall back to the queue name when
// no label is given.
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}
