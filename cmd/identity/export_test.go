package identity

import "testing"

// RunDirectoryContract exposes the shared Directory suite to external tests.
func RunDirectoryContract(t *testing.T, newDir func(t *testing.T) Directory) {
	runDirectoryContract(t, newDir)
}
