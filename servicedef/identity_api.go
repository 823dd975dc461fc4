// Package servicedef describes the request and response bodies of the identity server API, as
// used by the contract tests.
package servicedef

import "gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

// Error codes the tests expect identity servers to use.
const (
	ErrCodeInvalidEmail        = "M_INVALID_EMAIL"
	ErrCodeSessionNotValidated = "M_SESSION_NOT_VALIDATED"
	ErrCodeUnauthorized        = "M_UNAUTHORIZED"
	ErrCodeTermsNotSigned      = "M_TERMS_NOT_SIGNED"
	ErrCodeThreepidInUse       = "THREEPID_IN_USE"
	ErrCodeMThreepidInUse      = "M_THREEPID_IN_USE"
	ErrCodeUnknownToken        = "M_UNKNOWN_TOKEN"
)

const MediumEmail = "email"

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

type RequestTokenParams struct {
	ClientSecret string              `json:"client_secret"`
	Email        string              `json:"email"`
	SendAttempt  ldvalue.OptionalInt `json:"send_attempt,omitempty"`
	NextLink     string              `json:"next_link,omitempty"`
}

type RequestTokenResponse struct {
	Sid string `json:"sid"`
}

type SubmitTokenParams struct {
	ClientSecret string `json:"client_secret"`
	Sid          string `json:"sid"`
	Token        string `json:"token"`
}

type SubmitTokenResponse struct {
	Success bool `json:"success"`
}

type BindParams struct {
	ClientSecret string `json:"client_secret"`
	Sid          string `json:"sid"`
	MXID         string `json:"mxid"`
}

// ThreepidBinding is returned by bind and by the v1 lookup.
type ThreepidBinding struct {
	Medium    string `json:"medium"`
	Address   string `json:"address"`
	MXID      string `json:"mxid"`
	TS        int64  `json:"ts"`
	NotBefore int64  `json:"not_before"`
	NotAfter  int64  `json:"not_after"`
}

// ValidatedThreepid is returned by getValidated3pid.
type ValidatedThreepid struct {
	Medium      string `json:"medium"`
	Address     string `json:"address"`
	ValidatedAt int64  `json:"validated_at"`
}

// Threepid is a (medium, address) pair.
type Threepid struct {
	Medium  string
	Address string
}

type BulkLookupParams struct {
	Threepids [][]string `json:"threepids"`
}

// BulkLookupResponse holds (medium, address, mxid) triples for the threepids that are bound.
type BulkLookupResponse struct {
	Threepids [][]string `json:"threepids"`
}

type HashDetailsResponse struct {
	Algorithms   []string `json:"algorithms"`
	LookupPepper string   `json:"lookup_pepper"`
}

type HashedLookupParams struct {
	Addresses []string `json:"addresses"`
	Algorithm string   `json:"algorithm"`
	Pepper    string   `json:"pepper"`
}

type HashedLookupResponse struct {
	Mappings map[string]string `json:"mappings"`
}

// StoreInviteParams is the body of a store-invite request. Only the first four fields are
// required.
type StoreInviteParams struct {
	Medium            string `json:"medium"`
	Address           string `json:"address"`
	RoomID            string `json:"room_id"`
	Sender            string `json:"sender"`
	RoomAlias         string `json:"room_alias,omitempty"`
	RoomAvatarURL     string `json:"room_avatar_url,omitempty"`
	RoomName          string `json:"room_name,omitempty"`
	SenderDisplayName string `json:"sender_display_name,omitempty"`
	SenderAvatarURL   string `json:"sender_avatar_url,omitempty"`
}

type PublicKey struct {
	PublicKey      string `json:"public_key"`
	KeyValidityURL string `json:"key_validity_url"`
}

type StoreInviteResponse struct {
	Token       string      `json:"token"`
	DisplayName string      `json:"display_name"`
	PublicKeys  []PublicKey `json:"public_keys"`
}

// InviteMail is the JSON document identity servers in test mode send as the body of an
// invitation mail.
type InviteMail struct {
	Token             string `json:"token"`
	RoomAlias         string `json:"room_alias"`
	RoomAvatarURL     string `json:"room_avatar_url"`
	RoomName          string `json:"room_name"`
	SenderDisplayName string `json:"sender_display_name"`
	SenderAvatarURL   string `json:"sender_avatar_url"`
}

type PubkeyValidityResponse struct {
	Valid bool `json:"valid"`
}

type RegisterParams struct {
	MatrixServerName string `json:"matrix_server_name"`
	AccessToken      string `json:"access_token"`
}

type RegisterResponse struct {
	Token string `json:"token"`
}

type AccountResponse struct {
	UserID string `json:"user_id"`
}

type TermsAgreement struct {
	UserAccepts []string `json:"user_accepts"`
}

type VersionsResponse struct {
	Versions []string `json:"versions"`
}
