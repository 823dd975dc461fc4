// Package framework contains the low-level test-run infrastructure of the identity server
// contract tests: test contexts, results, filtering and debug log capture.
//
// The general model is:
//
// 1. A test run is started with Run, which hands out a root Context. Tests and subtests are
// created with Context.Run and identified by a TestID path.
//
// 2. A Context behaves much like Go's *testing.T: it can be passed to the testify assert and
// require packages, it accumulates failures, and it can be skipped.
//
// 3. Every Context captures its own debug output, which a TestLogger may print when the test
// finishes.
//
// The domain-specific code that knows how to talk to an identity server, and which fake
// services it needs, lives in other packages built on top of this one.
package framework
