package isclient

import (
	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/servicedef"
)

// Register creates an account from a federation token issued by the given homeserver.
func (c *Client) Register(matrixServerName, federationToken string) (Response, error) {
	return c.do(request{
		method: "POST",
		url:    c.apiURL("/account/register"),
		body: servicedef.RegisterParams{
			MatrixServerName: matrixServerName,
			AccessToken:      federationToken,
		},
		noAuth: true,
	})
}

// MakeAccount registers an account and uses its access token for all further requests. If
// federationToken is empty, a token for a random user on hsAddr is minted.
func (c *Client) MakeAccount(hsAddr, federationToken string) error {
	if !c.version.Authenticated() {
		return ErrAuthNotSupported
	}
	if federationToken == "" {
		federationToken = c.mintToken(hsAddr)
	}
	resp, err := c.Register(hsAddr, federationToken)
	if err != nil {
		return err
	}
	var registered servicedef.RegisterResponse
	if resp.IsError() || resp.Decode(&registered) != nil || registered.Token == "" {
		return &RegisterFailedError{Response: resp}
	}
	c.SetAccessToken(registered.Token)
	return nil
}

func (c *Client) mintToken(serverName string) string {
	if c.tokenMinter != nil {
		return c.tokenMinter(serverName)
	}
	c.lock.Lock()
	if c.minters == nil {
		c.minters = make(map[string]*fakehs.Minter)
	}
	m := c.minters[serverName]
	if m == nil {
		m = fakehs.NewMinter(fakehs.DefaultSeed, serverName)
		c.minters[serverName] = m
	}
	c.lock.Unlock()
	return m.TokenForRandomUser()
}

// Account returns the account of the current access token.
func (c *Client) Account() (Response, error) {
	if !c.version.Authenticated() {
		return Response{}, ErrAuthNotSupported
	}
	return c.get("/account", nil)
}

// Logout invalidates the current access token. The client keeps using it, so that tests can
// check that it is rejected afterwards.
func (c *Client) Logout() (Response, error) {
	if !c.version.Authenticated() {
		return Response{}, ErrAuthNotSupported
	}
	return c.post("/account/logout", nil)
}

// GetTerms returns the catalog of published policies.
func (c *Client) GetTerms() (Response, error) {
	return c.do(request{method: "GET", url: c.apiURL("/terms"), noAuth: true})
}

// AgreeToTerms accepts the policy documents with the given URLs. Acceptances accumulate across
// calls.
func (c *Client) AgreeToTerms(urls []string) (Response, error) {
	if urls == nil {
		urls = []string{}
	}
	return c.post("/terms", servicedef.TermsAgreement{UserAccepts: urls})
}

// CheckTermsSigned probes an endpoint that requires all terms to be accepted. It returns nil if
// the probe succeeded, or else the server's error response (normally M_TERMS_NOT_SIGNED).
//
// The probe is GET /hash_details. The catalog from GetTerms is not compared with the policies
// that were accepted.
func (c *Client) CheckTermsSigned() (*Response, error) {
	resp, err := c.HashDetails()
	if err != nil {
		return nil, err
	}
	if resp.Has("algorithms") {
		return nil, nil
	}
	return &resp, nil
}
