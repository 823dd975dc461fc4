package isclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matrix-org/identity-contract-tests/mailsink"
	"github.com/matrix-org/identity-contract-tests/servicedef"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailboxSource struct {
	*mailsink.Mailbox
}

func (m mailboxSource) GetMail() (mailsink.MailRecord, error) {
	return m.Pop(time.Millisecond * 100)
}

func jsonHandler(status int, body string) http.Handler {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	return httphelpers.HandlerWithResponse(status, headers, []byte(body))
}

func decodeBody(t *testing.T, info httphelpers.HTTPRequestInfo, target interface{}) {
	require.NoError(t, json.Unmarshal(info.Body, target))
}

func TestNewRejectsUnknownVersion(t *testing.T) {
	_, err := New("http://localhost", "v3")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestParseVersion(t *testing.T) {
	for _, s := range []string{"v1", "1", "V1"} {
		v, err := ParseVersion(s)
		require.NoError(t, err)
		assert.Equal(t, V1, v)
	}
	v, err := ParseVersion("v2")
	require.NoError(t, err)
	assert.Equal(t, V2, v)
	assert.True(t, v.Authenticated())
	assert.False(t, V1.Authenticated())
}

func TestVersionSelectsAPIRoot(t *testing.T) {
	for _, tc := range []struct {
		version string
		path    string
	}{
		{"v1", "/_matrix/identity/api/v1"},
		{"v2", "/_matrix/identity/v2"},
	} {
		t.Run(tc.version, func(t *testing.T) {
			handler, requests := httphelpers.RecordingHandler(jsonHandler(200, `{}`))
			httphelpers.WithServer(handler, func(server *httptest.Server) {
				c, err := New(server.URL, tc.version)
				require.NoError(t, err)
				resp, err := c.Ping()
				require.NoError(t, err)
				assert.True(t, resp.OK())
				assert.Equal(t, 0, resp.Body.Count())

				info := <-requests
				assert.Equal(t, tc.path, info.Request.URL.Path)
			})
		})
	}
}

func TestVersionsUsesUnversionedPath(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(jsonHandler(200, `{"versions":["v1.1"]}`))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V2)
		resp, err := c.Versions()
		require.NoError(t, err)
		assert.Equal(t, "v1.1", resp.Get("versions").GetByIndex(0).StringValue())
		assert.Equal(t, "/_matrix/identity/versions", (<-requests).Request.URL.Path)
	})
}

func TestRequestEmailCodeSendsParams(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(jsonHandler(200, `{"sid":"1"}`))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V1)
		resp, err := c.RequestEmailCode("steve@nowhere.test", "verysekrit", 1)
		require.NoError(t, err)
		assert.Equal(t, "1", resp.Get("sid").StringValue())

		info := <-requests
		assert.Equal(t, "POST", info.Request.Method)
		assert.Equal(t, "/_matrix/identity/api/v1/validate/email/requestToken", info.Request.URL.Path)
		assert.Equal(t, "application/json", info.Request.Header.Get("Content-Type"))
		var body map[string]interface{}
		decodeBody(t, info, &body)
		assert.Equal(t, map[string]interface{}{
			"client_secret": "verysekrit",
			"email":         "steve@nowhere.test",
			"send_attempt":  float64(1),
		}, body)
	})
}

func TestProtocolErrorIsReturnedAsData(t *testing.T) {
	httphelpers.WithServer(jsonHandler(400, `{"errcode":"M_INVALID_EMAIL","error":"bad"}`), func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V1)
		resp, err := c.RequestEmailCode("fish", "secret", 1)
		require.NoError(t, err)
		assert.True(t, resp.IsError())
		assert.Equal(t, servicedef.ErrCodeInvalidEmail, resp.ErrCode())
		assert.Equal(t, "bad", resp.ErrorMessage())
		assert.Equal(t, 400, resp.StatusCode)
	})
}

func TestTransportErrorIsReturnedAsError(t *testing.T) {
	server := httptest.NewServer(jsonHandler(200, `{}`))
	server.Close()
	c := NewWithVersion(server.URL, V1)
	_, err := c.Ping()
	assert.Error(t, err)
}

func TestSubmitEmailTokenViaGetReturnsRawBody(t *testing.T) {
	body := "identity:email_submit_get_response\n"
	handler, requests := httphelpers.RecordingHandler(
		httphelpers.HandlerWithResponse(200, nil, []byte(body)))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V1)
		resp, err := c.SubmitEmailTokenViaGet("1", "verysekrit", "abc")
		require.NoError(t, err)
		assert.Equal(t, body, string(resp.Raw()))

		info := <-requests
		assert.Equal(t, "GET", info.Request.Method)
		q := info.Request.URL.Query()
		assert.Equal(t, "1", q.Get("sid"))
		assert.Equal(t, "verysekrit", q.Get("client_secret"))
		assert.Equal(t, "abc", q.Get("token"))
	})
}

func TestBulkLookupSendsPairs(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(jsonHandler(200, `{"threepids":[]}`))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V1)
		_, err := c.BulkLookup([]servicedef.Threepid{
			{Medium: "email", Address: "thing1@nowhere.test"},
			{Medium: "email", Address: "thing2@nowhere.test"},
		})
		require.NoError(t, err)

		var body servicedef.BulkLookupParams
		decodeBody(t, <-requests, &body)
		assert.Equal(t, [][]string{
			{"email", "thing1@nowhere.test"},
			{"email", "thing2@nowhere.test"},
		}, body.Threepids)
	})
}

func TestPubkeyIsValidResolvesRelativeURL(t *testing.T) {
	handler, requests := httphelpers.RecordingHandler(jsonHandler(200, `{"valid":true}`))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		c := NewWithVersion(server.URL, V2)
		c.SetAccessToken("secret")
		resp, err := c.PubkeyIsValid("/_matrix/identity/v2/pubkey/isvalid", "key")
		require.NoError(t, err)
		assert.True(t, resp.Get("valid").BoolValue())

		info := <-requests
		assert.Equal(t, "/_matrix/identity/v2/pubkey/isvalid", info.Request.URL.Path)
		assert.Equal(t, "key", info.Request.URL.Query().Get("public_key"))
		assert.Empty(t, info.Request.Header.Get("Authorization"))
	})
}

func TestResponseDecode(t *testing.T) {
	resp := newResponse(200, []byte(`{"medium":"email","address":"a@b.test","mxid":"@a:b.test","ts":1,"not_before":2,"not_after":3}`))
	var binding servicedef.ThreepidBinding
	require.NoError(t, resp.Decode(&binding))
	assert.Equal(t, servicedef.ThreepidBinding{
		Medium: "email", Address: "a@b.test", MXID: "@a:b.test", TS: 1, NotBefore: 2, NotAfter: 3,
	}, binding)

	assert.Error(t, newResponse(200, []byte("not json")).Decode(&binding))
	assert.True(t, newResponse(200, []byte("not json")).Body.IsNull())
}
