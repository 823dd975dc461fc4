package framework

import "strings"

type Results struct {
	Tests    []TestResult
	Failures []TestResult
}

type TestResult struct {
	TestID  TestID
	Errors  []error
	Skipped bool
}

func (r Results) OK() bool {
	return len(r.Failures) == 0
}

// Counts returns the number of tests that passed, failed and were skipped.
func (r Results) Counts() (passed, failed, skipped int) {
	for _, t := range r.Tests {
		if t.Skipped {
			skipped++
		}
	}
	failed = len(r.Failures)
	passed = len(r.Tests) - failed - skipped
	return
}

type TestID struct {
	Path []string
}

// Plus returns a new TestID for a subtest of this one.
func (t TestID) Plus(name string) TestID {
	path := make([]string, 0, len(t.Path)+1)
	path = append(path, t.Path...)
	return TestID{Path: append(path, name)}
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}
