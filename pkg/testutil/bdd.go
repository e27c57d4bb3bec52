package testutil

import "testing"

// Given names a subtest after the precondition it sets up.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}
