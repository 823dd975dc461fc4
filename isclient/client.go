// Package isclient is a client for the identity server API, covering everything the
// conformance tests need to do to a server: verifying email addresses through the mail sink,
// binding and looking up third-party identifiers, invitations, accounts and terms of service.
package isclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/framework"
	"github.com/matrix-org/identity-contract-tests/mailsink"
)

// MailSource is where the client picks up the mail that the identity server sends. Both
// *mailsink.Sink and test fakes implement it.
type MailSource interface {
	GetMail() (mailsink.MailRecord, error)
}

// Client talks to one identity server using one API version. It is not safe for concurrent use
// by multiple tests, since it holds the access token of the account it registered.
type Client struct {
	baseURL     string
	version     Version
	mail        MailSource
	httpClient  *http.Client
	logger      framework.Logger
	tokenMinter func(serverName string) string
	minters     map[string]*fakehs.Minter
	accessToken string
	lock        sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithMailSource(mail MailSource) Option {
	return func(c *Client) { c.mail = mail }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets where the client logs each request and response.
func WithLogger(logger framework.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTokenMinter sets how MakeAccount obtains a federation token when it is not given one.
func WithTokenMinter(mint func(serverName string) string) Option {
	return func(c *Client) { c.tokenMinter = mint }
}

// New creates a client for the identity server at baseURL. The version is parsed with
// ParseVersion, so an unknown version fails here rather than on the first request.
func New(baseURL, version string, opts ...Option) (*Client, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	return NewWithVersion(baseURL, v, opts...), nil
}

func NewWithVersion(baseURL string, version Version, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		version:    version,
		httpClient: http.DefaultClient,
		logger:     framework.NullLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Version() Version { return c.version }

func (c *Client) BaseURL() string { return c.baseURL }

// AccessToken returns the token of the account registered by MakeAccount, if any.
func (c *Client) AccessToken() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.accessToken
}

// SetAccessToken makes subsequent requests use the given bearer token.
func (c *Client) SetAccessToken(token string) {
	c.lock.Lock()
	c.accessToken = token
	c.lock.Unlock()
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + c.version.root + path
}

type request struct {
	method string
	url    string
	query  url.Values
	body   interface{}
	noAuth bool
}

func (c *Client) do(r request) (Response, error) {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var bodyReader *bytes.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return Response{}, err
		}
		c.logger.Printf("%s %s %s", r.method, target, string(data))
		bodyReader = bytes.NewReader(data)
	} else {
		c.logger.Printf("%s %s", r.method, target)
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(r.method, target, bodyReader)
	if err != nil {
		return Response{}, err
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" && !r.noAuth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", r.method, target, err)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("error reading response from %s: %w", target, err)
	}
	c.logger.Printf("  -> %d %s", resp.StatusCode, string(data))
	return newResponse(resp.StatusCode, data), nil
}

func (c *Client) get(path string, query url.Values) (Response, error) {
	return c.do(request{method: "GET", url: c.apiURL(path), query: query})
}

func (c *Client) post(path string, body interface{}) (Response, error) {
	return c.do(request{method: "POST", url: c.apiURL(path), body: body})
}

// Ping requests the API root, which a live server answers with an empty object.
func (c *Client) Ping() (Response, error) {
	return c.get("", nil)
}

// Versions requests the list of supported specification versions.
func (c *Client) Versions() (Response, error) {
	return c.do(request{method: "GET", url: c.baseURL + "/_matrix/identity/versions"})
}
