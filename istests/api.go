package istests

import (
	"errors"
	"fmt"

	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/framework"
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/launcher"
	"github.com/matrix-org/identity-contract-tests/mailsink"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// T represents a test or subtest in the identity server test suite.
type T struct {
	context *framework.Context
	env     *testenv.Env
}

// Errorf is called by assertions to log a test failure. It does not cause an immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by the require package when a test should fail and immediately exit.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Run runs a subtest.
func (t *T) Run(name string, action func(*T)) {
	t.context.Run(name, func(c *framework.Context) {
		action(&T{context: c, env: t.env})
	})
}

// Debug logs some debug output for the test. The output will be passed to the test logger at
// the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

func (t *T) Skip(reason string) {
	t.context.SkipWithReason(reason)
}

// MailSink returns the mail sink, failing the test if it could not be launched.
func (t *T) MailSink() *mailsink.Sink {
	sink, err := t.env.MailSink()
	require.NoError(t, err)
	return sink
}

// Homeserver returns the fake homeserver, failing the test if it could not be launched.
func (t *T) Homeserver() *fakehs.Homeserver {
	hs, err := t.env.Homeserver()
	require.NoError(t, err)
	return hs
}

// IdentityServerURL returns the base URL of an identity server. The test is skipped if there
// is no way to launch that variant.
func (t *T) IdentityServerURL(variant testenv.Variant) string {
	url, err := t.env.IdentityServer(variant)
	if errors.Is(err, launcher.ErrNoLauncher) {
		t.Skip(fmt.Sprintf("no identity server configured for variant %s", variant))
	}
	require.NoError(t, err)
	return url
}

// NewClient creates a client for the given identity server variant, reading mail from the mail
// sink and minting random users on the fake homeserver.
func (t *T) NewClient(variant testenv.Variant, version isclient.Version) *isclient.Client {
	url := t.IdentityServerURL(variant)
	sink := t.MailSink()
	hs := t.Homeserver()
	return isclient.NewWithVersion(url, version,
		isclient.WithMailSource(sink),
		isclient.WithLogger(t.context.DebugLogger()),
		isclient.WithTokenMinter(func(string) string { return hs.TokenForRandomUser() }),
	)
}

// NewAccountClient creates a v2 client and registers an account for it. If userID is empty
// the account belongs to a random user.
func (t *T) NewAccountClient(variant testenv.Variant, userID string) *isclient.Client {
	c := t.NewClient(variant, isclient.V2)
	token := ""
	if userID != "" {
		token = fakehs.TokenForUser(userID)
	}
	require.NoError(t, c.MakeAccount(t.Homeserver().ServerName(), token))
	return c
}

// RequireMail takes the next message from the mail sink, failing the test if none arrives.
func (t *T) RequireMail() mailsink.MailRecord {
	mail, err := t.MailSink().GetMail()
	require.NoError(t, err, "expected the identity server to send mail")
	t.Debug("Got mail: %s", mail)
	return mail
}

// ResponseCheck checks the result of a client call. The Require functions return one, so
// that a call can be checked inline: RequireSuccess(t)(api.Ping()).
type ResponseCheck func(resp isclient.Response, err error) isclient.Response

// RequireResponse fails the test on a transport error.
func RequireResponse(t *T) ResponseCheck {
	return func(resp isclient.Response, err error) isclient.Response {
		require.NoError(t, err)
		return resp
	}
}

// RequireSuccess fails the test unless the server answered without an error.
func RequireSuccess(t *T) ResponseCheck {
	return func(resp isclient.Response, err error) isclient.Response {
		require.NoError(t, err)
		require.False(t, resp.IsError(), "unexpected error response: %s", resp)
		return resp
	}
}

// RequireErrCode fails the test unless the server answered with one of the given error codes.
func RequireErrCode(t *T, codes ...string) ResponseCheck {
	return func(resp isclient.Response, err error) isclient.Response {
		require.NoError(t, err)
		require.Contains(t, codes, resp.ErrCode(), "unexpected response: %s", resp)
		return resp
	}
}

// AssertThreepid checks the medium and address properties of a response.
func AssertThreepid(t *T, resp isclient.Response, medium, address string) {
	assert.Equal(t, medium, resp.Get("medium").StringValue())
	assert.Equal(t, address, resp.Get("address").StringValue())
}
