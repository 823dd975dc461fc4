package fakehs

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

const tokenPrefix = "user:"

// DefaultSeed is the seed used for random users unless configured otherwise, so that repeated
// runs register the same accounts.
const DefaultSeed = 1

// TokenForUser returns an OpenID token, as a client would obtain from its homeserver, that the
// fake homeserver resolves to userID. The token is not signed: it is only meaningful to the
// fake homeserver.
func TokenForUser(userID string) string {
	return tokenPrefix + base64.StdEncoding.EncodeToString([]byte(userID))
}

// UserForToken resolves a token minted by TokenForUser. It returns false for anything else.
func UserForToken(token string) (string, bool) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefix))
	if err != nil || len(decoded) == 0 {
		return "", false
	}
	return string(decoded), true
}

// Minter mints tokens for synthetic users on a given homeserver. Its random users come from a
// seeded generator, so the same seed always yields the same sequence of users.
type Minter struct {
	serverName string
	rng        *rand.Rand
	lock       sync.Mutex
}

func NewMinter(seed int64, serverName string) *Minter {
	return &Minter{
		serverName: serverName,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// RandomUserID returns the next random user ID, of the form @user<N>:<server name>.
func (m *Minter) RandomUserID() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return fmt.Sprintf("@user%d:%s", m.rng.Int63n(1<<32+1), m.serverName)
}

// TokenForRandomUser returns a token for the next random user.
func (m *Minter) TokenForRandomUser() string {
	return TokenForUser(m.RandomUserID())
}

func (m *Minter) setServerName(serverName string) {
	m.lock.Lock()
	m.serverName = serverName
	m.lock.Unlock()
}

// Reseed restarts the random user sequence.
func (m *Minter) Reseed(seed int64) {
	m.lock.Lock()
	m.rng.Seed(seed)
	m.lock.Unlock()
}
