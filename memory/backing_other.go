//go:build !unix

package memory

// MapBacking falls back to the Go heap where anonymous mappings are not
// available.
func MapBacking(length uintptr) ([]byte, func() error, error) {
	return make([]byte, length), func() error { return nil }, nil
}
