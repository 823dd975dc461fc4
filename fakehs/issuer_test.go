package fakehs

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/identity-contract-tests/logging"
	"github.com/matrix-org/identity-contract-tests/procs"
)

const childEnv = "FAKEHS_TEST_CHILD_ADDR"

func TestMain(m *testing.M) {
	if addr := os.Getenv(childEnv); addr != "" {
		if err := ServeChild(addr, os.Stdout, logging.Nop()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func childCommand(addr string) (*exec.Cmd, error) {
	cmd, err := procs.SelfCommand("-test.run=^$")
	if err != nil {
		return nil, err
	}
	cmd.Env = append(os.Environ(), childEnv+"="+addr)
	return cmd, nil
}

func httpsClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
}

func resolve(t *testing.T, client *http.Client, addr, token string) (int, string) {
	resp, err := client.Get("https://" + addr + UserInfoPath + "?access_token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Sub     string `json:"sub"`
		ErrCode string `json:"errcode"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	if body.ErrCode != "" {
		return resp.StatusCode, body.ErrCode
	}
	return resp.StatusCode, body.Sub
}

func TestHomeserverServesOverTLS(t *testing.T) {
	h := New(Options{Addr: "127.0.0.1:0"})
	require.NoError(t, h.Launch())
	defer h.Shutdown()

	client := httpsClient(&tls.Config{RootCAs: h.CertPool(), ServerName: "localhost"})
	status, sub := resolve(t, client, h.Addr(), TokenForUser("@jimmy:fake.test"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "@jimmy:fake.test", sub)

	status, errcode := resolve(t, client, h.Addr(), "nope")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "M_UNKNOWN_TOKEN", errcode)
}

func TestHomeserverTokensUseServerName(t *testing.T) {
	h := New(Options{Addr: "localhost:4490"})
	assert.Equal(t, "localhost:4490", h.ServerName())
	userID, ok := UserForToken(h.TokenForRandomUser())
	require.True(t, ok)
	assert.Regexp(t, `:localhost:4490$`, userID)
}

func TestHomeserverFailsFastWhenPortIsBound(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	h := New(Options{Addr: l.Addr().String()})
	assert.Error(t, h.Launch())
	h.Shutdown()
}

func TestHomeserverShutdownIsIdempotent(t *testing.T) {
	h := New(Options{Addr: "127.0.0.1:0"})
	require.NoError(t, h.Launch())
	h.Shutdown()
	h.Shutdown()
	assert.Equal(t, ErrAlreadyLaunched, h.Launch())

	_, err := net.DialTimeout("tcp", h.Addr(), time.Second)
	assert.Error(t, err)
}

func TestIsolatedHomeserver(t *testing.T) {
	h := New(Options{Addr: "127.0.0.1:0", Isolated: true, ChildCommand: childCommand})
	require.NoError(t, h.Launch())
	defer h.Shutdown()
	assert.Nil(t, h.CertPool())

	client := httpsClient(&tls.Config{InsecureSkipVerify: true})
	status, sub := resolve(t, client, h.Addr(), TokenForUser("@child:fake.test"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "@child:fake.test", sub)
}

func TestIsolatedHomeserverFailsFastWhenPortIsBound(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	h := New(Options{Addr: l.Addr().String(), Isolated: true, ChildCommand: childCommand})
	defer h.Shutdown()
	var exitErr *procs.ExitError
	assert.True(t, errors.As(h.Launch(), &exitErr))
}

func TestHomeserverServerNameIsBoundAddress(t *testing.T) {
	h := New(Options{Addr: "localhost:0"})
	require.NoError(t, h.Launch())
	defer h.Shutdown()

	assert.NotEqual(t, "localhost:0", h.ServerName())
	assert.Equal(t, h.Addr(), h.ServerName())
	userID, ok := UserForToken(h.TokenForRandomUser())
	require.True(t, ok)
	assert.Regexp(t, ":"+regexp.QuoteMeta(h.ServerName())+"$", userID)
}
