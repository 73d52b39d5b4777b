// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability. FakeStarlink stands
// in for the Starlink tasks so that the pipeline can be exercised without
// a Starlink installation.
package testutil

import (
	"strings"
	"testing"
)

// AssertCalledInOrder fails the test unless every tool in want appears in
// got, in the same relative order.
func AssertCalledInOrder(t testing.TB, got, want []string) {
	t.Helper()
	i := 0
	for _, tool := range got {
		if i < len(want) && tool == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("tools %s not called in order; got %s", strings.Join(want, ","), strings.Join(got, ","))
	}
}
