package istests

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/servicedef"

	gosmtp "github.com/emersion/go-smtp"
)

const (
	v1Root      = "/_matrix/identity/api/v1"
	v2Root      = "/_matrix/identity/v2"
	fakePepper  = "matrixrocks"
	fakePubkey  = "ed25519-fake-key"
	fakeISEmail = "is@identity.test"
)

type fakeSession struct {
	email, clientSecret, token string
	validated                  bool
}

type fakeAccount struct {
	userID   string
	accepted map[string]bool
	loggedIn bool
}

type fakePolicy struct {
	id, version string
}

// fakeIdentityServer is a small in-memory identity server that behaves the way the suite
// expects a conforming server to behave.
type fakeIdentityServer struct {
	mailAddr   string
	hsClient   *http.Client
	withTerms  bool
	baseURL    string
	sessions   map[string]*fakeSession
	bindings   map[string]servicedef.ThreepidBinding
	accounts   map[string]*fakeAccount
	lastID     int
	brokenBind bool
	// overwriteBindings lets a bound address be bound again to a different user.
	overwriteBindings bool
	lock              sync.Mutex
}

var fakePolicies = []fakePolicy{{"privacy_policy", "1.2"}, {"terms_of_service", "5.0"}}

func newFakeIdentityServer(mailAddr string, hs *fakehs.Homeserver, withTerms bool) *fakeIdentityServer {
	return &fakeIdentityServer{
		mailAddr:  mailAddr,
		withTerms: withTerms,
		hsClient: &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: hs.CertPool(), MinVersion: tls.VersionTLS12},
		}},
		sessions: make(map[string]*fakeSession),
		bindings: make(map[string]servicedef.ThreepidBinding),
		accounts: make(map[string]*fakeAccount),
	}
}

func randomHex() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeFakeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFakeError(w http.ResponseWriter, status int, errcode string) {
	writeFakeJSON(w, status, servicedef.ErrorBody{ErrCode: errcode, Error: errcode})
}

func policyURL(baseURL string, p fakePolicy, lang string) string {
	return fmt.Sprintf("%s/terms/%s-%s-%s.html", baseURL, p.id, p.version, lang)
}

func (s *fakeIdentityServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	defer s.lock.Unlock()

	path := r.URL.Path
	if path == "/_matrix/identity/versions" {
		writeFakeJSON(w, 200, servicedef.VersionsResponse{Versions: []string{"v1.1", "v1.2"}})
		return
	}
	var root string
	switch {
	case strings.HasPrefix(path, v2Root):
		root = v2Root
	case strings.HasPrefix(path, v1Root):
		root = v1Root
	default:
		w.WriteHeader(404)
		return
	}
	endpoint := r.Method + " " + strings.TrimPrefix(path, root)

	var account *fakeAccount
	if root == v2Root {
		switch endpoint {
		case "POST /account/register", "GET /terms", "GET /pubkey/isvalid", "GET ":
		default:
			account = s.accounts[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
			if account == nil || !account.loggedIn {
				writeFakeError(w, 401, servicedef.ErrCodeUnauthorized)
				return
			}
			switch endpoint {
			case "GET /account", "POST /account/logout", "POST /terms":
			default:
				if s.withTerms && !s.allAccepted(account) {
					writeFakeError(w, 403, servicedef.ErrCodeTermsNotSigned)
					return
				}
			}
		}
	}

	switch endpoint {
	case "GET ":
		writeFakeJSON(w, 200, map[string]interface{}{})
	case "POST /validate/email/requestToken":
		s.requestToken(w, r)
	case "POST /validate/email/submitToken":
		var params servicedef.SubmitTokenParams
		_ = json.NewDecoder(r.Body).Decode(&params)
		writeFakeJSON(w, 200, servicedef.SubmitTokenResponse{
			Success: s.submitToken(params.Sid, params.ClientSecret, params.Token),
		})
	case "GET /validate/email/submitToken":
		q := r.URL.Query()
		s.submitToken(q.Get("sid"), q.Get("client_secret"), q.Get("token"))
		_, _ = w.Write([]byte("identity:email_submit_get_response\n"))
	case "GET /3pid/getValidated3pid":
		q := r.URL.Query()
		session := s.validSession(q.Get("sid"), q.Get("client_secret"))
		if session == nil || !session.validated {
			writeFakeError(w, 400, servicedef.ErrCodeSessionNotValidated)
			return
		}
		writeFakeJSON(w, 200, servicedef.ValidatedThreepid{
			Medium: servicedef.MediumEmail, Address: session.email, ValidatedAt: time.Now().UnixMilli(),
		})
	case "POST /3pid/bind":
		s.bind(w, r, account)
	case "GET /lookup":
		if binding, ok := s.bindings[r.URL.Query().Get("address")]; ok {
			writeFakeJSON(w, 200, binding)
		} else {
			writeFakeJSON(w, 200, map[string]interface{}{})
		}
	case "POST /bulk_lookup":
		var params servicedef.BulkLookupParams
		_ = json.NewDecoder(r.Body).Decode(&params)
		result := servicedef.BulkLookupResponse{Threepids: [][]string{}}
		for _, tp := range params.Threepids {
			if binding, ok := s.bindings[tp[1]]; ok {
				result.Threepids = append(result.Threepids, []string{tp[0], tp[1], binding.MXID})
			}
		}
		writeFakeJSON(w, 200, result)
	case "GET /hash_details":
		writeFakeJSON(w, 200, servicedef.HashDetailsResponse{Algorithms: []string{"none", "sha256"}, LookupPepper: fakePepper})
	case "POST /lookup":
		var params servicedef.HashedLookupParams
		_ = json.NewDecoder(r.Body).Decode(&params)
		if params.Algorithm != "none" || params.Pepper != fakePepper {
			writeFakeError(w, 400, "M_INVALID_PARAM")
			return
		}
		result := servicedef.HashedLookupResponse{Mappings: map[string]string{}}
		for _, a := range params.Addresses {
			if binding, ok := s.bindings[strings.TrimSuffix(a, " "+servicedef.MediumEmail)]; ok {
				result.Mappings[a] = binding.MXID
			}
		}
		writeFakeJSON(w, 200, result)
	case "POST /store-invite":
		s.storeInvite(w, r)
	case "GET /pubkey/isvalid":
		writeFakeJSON(w, 200, servicedef.PubkeyValidityResponse{Valid: r.URL.Query().Get("public_key") == fakePubkey})
	case "POST /account/register":
		s.register(w, r)
	case "GET /account":
		writeFakeJSON(w, 200, servicedef.AccountResponse{UserID: account.userID})
	case "POST /account/logout":
		account.loggedIn = false
		writeFakeJSON(w, 200, map[string]interface{}{})
	case "GET /terms":
		s.terms(w)
	case "POST /terms":
		var params servicedef.TermsAgreement
		_ = json.NewDecoder(r.Body).Decode(&params)
		for _, u := range params.UserAccepts {
			account.accepted[u] = true
		}
		writeFakeJSON(w, 200, map[string]interface{}{})
	default:
		writeFakeError(w, 404, "M_UNRECOGNIZED")
	}
}

func (s *fakeIdentityServer) sendMail(to string, body []byte) error {
	c, err := gosmtp.Dial(s.mailAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.SendMail(fakeISEmail, []string{to}, strings.NewReader(string(body))); err != nil {
		return err
	}
	return c.Quit()
}

func (s *fakeIdentityServer) requestToken(w http.ResponseWriter, r *http.Request) {
	var params servicedef.RequestTokenParams
	_ = json.NewDecoder(r.Body).Decode(&params)
	if strings.Count(params.Email, "@") != 1 {
		writeFakeError(w, 400, servicedef.ErrCodeInvalidEmail)
		return
	}
	s.lastID++
	sid := fmt.Sprintf("%d", s.lastID)
	session := &fakeSession{email: params.Email, clientSecret: params.ClientSecret, token: randomHex()}
	s.sessions[sid] = session
	mail := fmt.Sprintf("Subject: Your validation code\r\n\r\nYour code is <<<%s>>>\r\n", session.token)
	if err := s.sendMail(params.Email, []byte(mail)); err != nil {
		writeFakeError(w, 500, "M_EMAIL_SEND_ERROR")
		return
	}
	writeFakeJSON(w, 200, servicedef.RequestTokenResponse{Sid: sid})
}

func (s *fakeIdentityServer) validSession(sid, clientSecret string) *fakeSession {
	session := s.sessions[sid]
	if session == nil || session.clientSecret != clientSecret {
		return nil
	}
	return session
}

func (s *fakeIdentityServer) submitToken(sid, clientSecret, token string) bool {
	session := s.validSession(sid, clientSecret)
	if session == nil || session.token != token {
		return false
	}
	session.validated = true
	return true
}

func (s *fakeIdentityServer) bind(w http.ResponseWriter, r *http.Request, account *fakeAccount) {
	var params servicedef.BindParams
	_ = json.NewDecoder(r.Body).Decode(&params)
	session := s.validSession(params.Sid, params.ClientSecret)
	if session == nil || !session.validated {
		writeFakeError(w, 400, servicedef.ErrCodeSessionNotValidated)
		return
	}
	if account != nil && account.userID != params.MXID {
		writeFakeError(w, 403, servicedef.ErrCodeUnauthorized)
		return
	}
	if existing, bound := s.bindings[session.email]; bound && existing.MXID != params.MXID && !s.overwriteBindings {
		writeFakeError(w, 400, servicedef.ErrCodeMThreepidInUse)
		return
	}
	now := time.Now().UnixMilli()
	binding := servicedef.ThreepidBinding{
		Medium:    servicedef.MediumEmail,
		Address:   session.email,
		MXID:      params.MXID,
		TS:        now,
		NotBefore: now,
		NotAfter:  now + 100*365*24*3600*1000,
	}
	if !s.brokenBind {
		s.bindings[session.email] = binding
	}
	writeFakeJSON(w, 200, binding)
}

func (s *fakeIdentityServer) storeInvite(w http.ResponseWriter, r *http.Request) {
	var params servicedef.StoreInviteParams
	_ = json.NewDecoder(r.Body).Decode(&params)
	if _, bound := s.bindings[params.Address]; bound {
		writeFakeError(w, 400, servicedef.ErrCodeThreepidInUse)
		return
	}
	token := randomHex()
	mail, _ := json.Marshal(servicedef.InviteMail{
		Token:             token,
		RoomAlias:         params.RoomAlias,
		RoomAvatarURL:     params.RoomAvatarURL,
		RoomName:          params.RoomName,
		SenderDisplayName: params.SenderDisplayName,
		SenderAvatarURL:   params.SenderAvatarURL,
	})
	if err := s.sendMail(params.Address, mail); err != nil {
		writeFakeError(w, 500, "M_EMAIL_SEND_ERROR")
		return
	}
	writeFakeJSON(w, 200, servicedef.StoreInviteResponse{
		Token:       token,
		DisplayName: params.Address[:1] + "...",
		PublicKeys: []servicedef.PublicKey{
			{PublicKey: fakePubkey, KeyValidityURL: v2Root + "/pubkey/isvalid"},
		},
	})
}

// register asks the homeserver named in the request who the federation token belongs to.
func (s *fakeIdentityServer) register(w http.ResponseWriter, r *http.Request) {
	var params servicedef.RegisterParams
	_ = json.NewDecoder(r.Body).Decode(&params)
	resp, err := s.hsClient.Get(fmt.Sprintf("https://%s%s?access_token=%s",
		params.MatrixServerName, fakehs.UserInfoPath, url.QueryEscape(params.AccessToken)))
	if err != nil {
		writeFakeError(w, 500, "M_UNKNOWN")
		return
	}
	defer resp.Body.Close()
	var userInfo struct {
		Sub string `json:"sub"`
	}
	if resp.StatusCode != 200 || json.NewDecoder(resp.Body).Decode(&userInfo) != nil {
		writeFakeError(w, 401, servicedef.ErrCodeUnauthorized)
		return
	}
	token := randomHex()
	s.accounts[token] = &fakeAccount{userID: userInfo.Sub, accepted: make(map[string]bool), loggedIn: true}
	writeFakeJSON(w, 200, servicedef.RegisterResponse{Token: token})
}

func (s *fakeIdentityServer) terms(w http.ResponseWriter) {
	policies := map[string]interface{}{}
	if s.withTerms {
		for _, p := range fakePolicies {
			policies[p.id] = map[string]interface{}{
				"version": p.version,
				"en":      map[string]string{"name": p.id + " (en)", "url": policyURL(s.baseURL, p, "en")},
				"fr":      map[string]string{"name": p.id + " (fr)", "url": policyURL(s.baseURL, p, "fr")},
			}
		}
	}
	writeFakeJSON(w, 200, map[string]interface{}{"policies": policies})
}

// allAccepted is true if, for every policy, the account has accepted its document in some
// language.
func (s *fakeIdentityServer) allAccepted(account *fakeAccount) bool {
	for _, p := range fakePolicies {
		if !account.accepted[policyURL(s.baseURL, p, "en")] && !account.accepted[policyURL(s.baseURL, p, "fr")] {
			return false
		}
	}
	return true
}
