// Package istests contains the conformance tests for identity servers.
//
// The tests are run by the harness binary rather than by "go test". Each test receives a *T,
// which plays the role of *testing.T and can be passed to the assert and require packages. T
// also gives access to the resources of the run (mail sink, fake homeserver and identity
// servers), which are started on first use.
package istests
