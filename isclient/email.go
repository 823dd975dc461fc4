package isclient

import (
	"fmt"
	"math/rand"
	"net/url"
	"regexp"

	"github.com/matrix-org/identity-contract-tests/servicedef"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

var tokenPattern = regexp.MustCompile(`<<<(.+?)>>>`)

// SessionParams identifies a validated email session, for use in a later bind.
type SessionParams struct {
	Sid          string
	ClientSecret string
}

// RequestEmailCode asks the server to send a validation token to the given address.
func (c *Client) RequestEmailCode(address, clientSecret string, sendAttempt int) (Response, error) {
	return c.post("/validate/email/requestToken", servicedef.RequestTokenParams{
		ClientSecret: clientSecret,
		Email:        address,
		SendAttempt:  ldvalue.NewOptionalInt(sendAttempt),
	})
}

// TokenFromMail waits for the next mail to arrive at the mail source and returns the token the
// server put between <<< and >>> in its body.
func (c *Client) TokenFromMail() (string, error) {
	if c.mail == nil {
		return "", ErrNoMailSource
	}
	mail, err := c.mail.GetMail()
	if err != nil {
		return "", err
	}
	c.logger.Printf("Got email: %s", mail)
	if !mail.HasData() {
		return "", ErrMailHasNoData
	}
	match := tokenPattern.FindStringSubmatch(mail.Text())
	if match == nil {
		return "", ErrTokenNotFound
	}
	return match[1], nil
}

// SubmitEmailToken submits a validation token with a POST request.
func (c *Client) SubmitEmailToken(sid, clientSecret, token string) (Response, error) {
	return c.post("/validate/email/submitToken", servicedef.SubmitTokenParams{
		ClientSecret: clientSecret,
		Sid:          sid,
		Token:        token,
	})
}

// SubmitEmailTokenViaGet submits a validation token the way a link in the mail would. The
// server's answer is not necessarily JSON, so callers usually look at Raw.
func (c *Client) SubmitEmailTokenViaGet(sid, clientSecret, token string) (Response, error) {
	return c.get("/validate/email/submitToken", url.Values{
		"client_secret": {clientSecret},
		"sid":           {sid},
		"token":         {token},
	})
}

// RequestAndSubmitEmailCode runs a whole validation with a fresh client secret: request a
// token, read it from the mail, and submit it.
func (c *Client) RequestAndSubmitEmailCode(address string) (SessionParams, error) {
	clientSecret := randomDigits(16)
	resp, err := c.RequestEmailCode(address, clientSecret, 1)
	if err != nil {
		return SessionParams{}, err
	}
	var requested servicedef.RequestTokenResponse
	if err := resp.Decode(&requested); err != nil || requested.Sid == "" {
		return SessionParams{}, fmt.Errorf("%w: %s", ErrMissingSession, resp)
	}
	sid := requested.Sid

	token, err := c.TokenFromMail()
	if err != nil {
		return SessionParams{}, err
	}

	submitResp, err := c.SubmitEmailToken(sid, clientSecret, token)
	if err != nil {
		return SessionParams{}, err
	}
	c.logger.Printf("submitToken returned %s", submitResp)
	var submitted servicedef.SubmitTokenResponse
	if err := submitResp.Decode(&submitted); err != nil || !submitted.Success {
		return SessionParams{}, &SubmitFailedError{Response: submitResp}
	}
	return SessionParams{Sid: sid, ClientSecret: clientSecret}, nil
}

// BindEmail binds the address validated in the given session to mxid.
func (c *Client) BindEmail(sid, clientSecret, mxid string) (Response, error) {
	return c.post("/3pid/bind", servicedef.BindParams{
		ClientSecret: clientSecret,
		Sid:          sid,
		MXID:         mxid,
	})
}

// GetValidatedThreepid returns the address validated in the given session.
func (c *Client) GetValidatedThreepid(sid, clientSecret string) (Response, error) {
	return c.get("/3pid/getValidated3pid", url.Values{
		"sid":           {sid},
		"client_secret": {clientSecret},
	})
}

func randomDigits(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}
	return string(digits)
}
