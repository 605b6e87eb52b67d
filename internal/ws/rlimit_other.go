//go:build !linux

package ws

// RaiseFileLimit is a no-op outside Linux.
func RaiseFileLimit(maxConns int) (uint64, error) {
	return 0, nil
}
