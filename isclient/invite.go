package isclient

import (
	"net/url"
	"strings"

	"github.com/matrix-org/identity-contract-tests/servicedef"
)

// StoreInvite records a room invitation for an address that has no binding yet. The server
// mails the same token it returns.
func (c *Client) StoreInvite(params servicedef.StoreInviteParams) (Response, error) {
	return c.post("/store-invite", params)
}

// PubkeyIsValid asks a key validity URL, as returned by StoreInvite, whether a public key is
// still valid. A URL that is only a path is resolved against the server's base URL.
func (c *Client) PubkeyIsValid(validityURL, publicKey string) (Response, error) {
	if strings.HasPrefix(validityURL, "/") {
		validityURL = c.baseURL + validityURL
	}
	return c.do(request{
		method: "GET",
		url:    validityURL,
		query:  url.Values{"public_key": {publicKey}},
		noAuth: true,
	})
}
