package istests

import (
	"net/http/httptest"
	"testing"

	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/framework"
	"github.com/matrix-org/identity-contract-tests/launcher"
	"github.com/matrix-org/identity-contract-tests/mailsink"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type suiteFixture struct {
	env     *testenv.Env
	noTerms *fakeIdentityServer
}

// newSuiteFixture starts in-process fake services and fake identity servers for both
// variants. Without terms, there is no launcher for the terms variant.
func newSuiteFixture(t *testing.T, withTermsServer bool) *suiteFixture {
	servers := map[bool]string{}
	env := testenv.New(testenv.Options{
		MailSink: mailsink.Options{Addr: "127.0.0.1:0"},
		FakeHS:   fakehs.Options{Addr: "localhost:0"},
		Launchers: func(withTerms bool) (launcher.Launcher, error) {
			url, ok := servers[withTerms]
			if !ok {
				return nil, launcher.ErrNoLauncher
			}
			return launcher.NewStaticLauncher(url, launcher.Options{}), nil
		},
	})
	t.Cleanup(env.Close)

	sink, err := env.MailSink()
	require.NoError(t, err)
	hs, err := env.Homeserver()
	require.NoError(t, err)

	start := func(withTerms bool) *fakeIdentityServer {
		is := newFakeIdentityServer(sink.Addr(), hs, withTerms)
		server := httptest.NewServer(is)
		t.Cleanup(server.Close)
		is.baseURL = server.URL
		servers[withTerms] = server.URL
		return is
	}
	f := &suiteFixture{env: env, noTerms: start(false)}
	if withTermsServer {
		start(true)
	}
	return f
}

func resultsByID(results framework.Results) map[string]framework.TestResult {
	ret := make(map[string]framework.TestResult)
	for _, r := range results.Tests {
		ret[r.TestID.String()] = r
	}
	return ret
}

func failureIDs(results framework.Results) []string {
	var ret []string
	for _, r := range results.Failures {
		ret = append(ret, r.TestID.String())
	}
	return ret
}

func TestSuitePassesAgainstConformingServer(t *testing.T) {
	f := newSuiteFixture(t, true)
	results := RunTestSuite(f.env, nil, nil)

	for _, failure := range results.Failures {
		t.Errorf("%s failed: %v", failure.TestID, failure.Errors)
	}
	passed, failed, skipped := results.Counts()
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)
	assert.Greater(t, passed, 30)

	byID := resultsByID(results)
	for _, id := range []string{
		"versions/supports v1.1",
		"v1/submit email code via GET",
		"v1/store invite",
		"v1/bulk lookup",
		"v1/rebind to another account is rejected",
		"v2/bind and hashed lookup",
		"terms/allow mixed languages",
		"account/logout",
		"bind denied/bind to another user",
	} {
		assert.Contains(t, byID, id)
	}

	sink, err := f.env.MailSink()
	require.NoError(t, err)
	assert.Equal(t, 0, sink.Mailbox().Len(), "every test should consume the mail it triggers")
}

func TestSuiteDetectsBindingsThatAreNotStored(t *testing.T) {
	f := newSuiteFixture(t, false)
	f.noTerms.brokenBind = true

	results := RunTestSuite(f.env, nil, nil)
	assert.False(t, results.OK())
	failures := failureIDs(results)
	assert.Contains(t, failures, "v1/bind and lookup")
	assert.Contains(t, failures, "v1/bulk lookup")
	assert.Contains(t, failures, "v2/bind and hashed lookup")
	assert.NotContains(t, failures, "v1/ping")
}

func TestSuiteDetectsOverwrittenBindings(t *testing.T) {
	f := newSuiteFixture(t, false)
	f.noTerms.overwriteBindings = true

	results := RunTestSuite(f.env, nil, nil)
	assert.Equal(t, []string{"v1/rebind to another account is rejected"}, failureIDs(results))
}

func TestSuiteSkipsTermsTestsWithoutTermsServer(t *testing.T) {
	f := newSuiteFixture(t, false)
	results := RunTestSuite(f.env, nil, nil)
	assert.True(t, results.OK(), "failures: %v", failureIDs(results))

	byID := resultsByID(results)
	assert.True(t, byID["terms/get terms"].Skipped)
	assert.True(t, byID["terms/allow when all agreed"].Skipped)
	assert.False(t, byID["terms/no terms configured"].Skipped)
	assert.False(t, byID["terms/allow if no terms configured"].Skipped)
}

func TestSuiteFilter(t *testing.T) {
	f := newSuiteFixture(t, false)
	var filters framework.RegexFilters
	require.NoError(t, filters.MustMatch.Set("^versions"))

	results := RunTestSuite(f.env, filters.AsFilter, nil)
	assert.True(t, results.OK())
	var ids []string
	for id := range resultsByID(results) {
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []string{"versions", "versions/supports v1.1"}, ids)
}
