package istests

import (
	"fmt"

	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/servicedef"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	commonTestsUser = "@commonapitests:fake.test"

	// submitGetResponse is what identity servers configured for these tests answer to a token
	// submitted with GET.
	submitGetResponse = "identity:email_submit_get_response\n"
)

func newCommonAPIClient(t *T, version isclient.Version) *isclient.Client {
	if version.Authenticated() {
		return t.NewAccountClient(testenv.NoTerms, commonTestsUser)
	}
	return t.NewClient(testenv.NoTerms, version)
}

// DoCommonAPITests covers the parts of the API that are the same in every version.
func DoCommonAPITests(t *T, version isclient.Version) {
	t.Run("ping", func(t *T) {
		api := newCommonAPIClient(t, version)
		resp := RequireSuccess(t)(api.Ping())
		assert.Equal(t, 0, resp.Body.Count(), "expected an empty object, got %s", resp)
	})

	t.Run("request email code", func(t *T) {
		api := newCommonAPIClient(t, version)
		resp := RequireSuccess(t)(api.RequestEmailCode("fakeemail1@nowhere.test", "sekrit", 1))
		assert.NotEmpty(t, resp.Get("sid").StringValue())
		t.RequireMail()
	})

	t.Run("reject invalid email", func(t *T) {
		api := newCommonAPIClient(t, version)
		RequireErrCode(t, servicedef.ErrCodeInvalidEmail)(
			api.RequestEmailCode("fakeemail1@nowhere.test@elsewhere.test", "sekrit", 1))
	})

	t.Run("submit email code", func(t *T) {
		api := newCommonAPIClient(t, version)
		_, err := api.RequestAndSubmitEmailCode("fakeemail2@nowhere.test")
		require.NoError(t, err)
	})

	t.Run("submit email code via GET", func(t *T) {
		api := newCommonAPIClient(t, version)
		req := RequireSuccess(t)(api.RequestEmailCode("steve@nowhere.test", "verysekrit", 1))
		sid := req.Get("sid").StringValue()

		token, err := api.TokenFromMail()
		require.NoError(t, err)

		resp := RequireResponse(t)(api.SubmitEmailTokenViaGet(sid, "verysekrit", token))
		assert.Equal(t, submitGetResponse, string(resp.Raw()))

		validated := RequireSuccess(t)(api.GetValidatedThreepid(sid, "verysekrit"))
		AssertThreepid(t, validated, servicedef.MediumEmail, "steve@nowhere.test")
	})

	t.Run("unverified bind", func(t *T) {
		api := newCommonAPIClient(t, version)
		req := RequireSuccess(t)(api.RequestEmailCode("fakeemail5@nowhere.test", "sekrit", 1))
		t.RequireMail()

		RequireErrCode(t, servicedef.ErrCodeSessionNotValidated)(
			api.BindEmail(req.Get("sid").StringValue(), "sekrit", commonTestsUser))
	})

	t.Run("get validated threepid", func(t *T) {
		api := newCommonAPIClient(t, version)
		session, err := api.RequestAndSubmitEmailCode("fakeemail4@nowhere.test")
		require.NoError(t, err)

		resp := RequireSuccess(t)(api.GetValidatedThreepid(session.Sid, session.ClientSecret))
		AssertThreepid(t, resp, servicedef.MediumEmail, "fakeemail4@nowhere.test")
	})

	t.Run("get validated threepid before validation", func(t *T) {
		api := newCommonAPIClient(t, version)
		req := RequireSuccess(t)(api.RequestEmailCode("fakeemail5@nowhere.test", "sekrit", 1))
		t.RequireMail()

		RequireErrCode(t, servicedef.ErrCodeSessionNotValidated)(
			api.GetValidatedThreepid(req.Get("sid").StringValue(), "sekrit"))
	})

	t.Run("store invite", func(t *T) {
		api := newCommonAPIClient(t, version)
		params := servicedef.StoreInviteParams{
			Medium:            servicedef.MediumEmail,
			Address:           "ian@fake.test",
			RoomID:            "$aroom:fake.test",
			Sender:            "@sender:fake.test",
			RoomAlias:         "#alias:fake.test",
			RoomAvatarURL:     "mxc://fake.test/roomavatar",
			RoomName:          "my excellent room",
			SenderDisplayName: "Ian Sender",
			SenderAvatarURL:   "mxc://fake.test/iansavatar",
		}
		resp := RequireSuccess(t)(api.StoreInvite(params))

		var invite servicedef.StoreInviteResponse
		require.NoError(t, resp.Decode(&invite))
		assert.NotEmpty(t, invite.Token)
		assert.NotEqual(t, params.Address, invite.DisplayName, "display name must be redacted")
		require.NotEmpty(t, invite.PublicKeys)

		for _, key := range invite.PublicKeys {
			var validity servicedef.PubkeyValidityResponse
			require.NoError(t, RequireSuccess(t)(api.PubkeyIsValid(key.KeyValidityURL, key.PublicKey)).Decode(&validity))
			assert.True(t, validity.Valid, "key %s should be valid", key.PublicKey)
		}

		var mail servicedef.InviteMail
		require.NoError(t, t.RequireMail().JSON(&mail))
		assert.Equal(t, servicedef.InviteMail{
			Token:             invite.Token,
			RoomAlias:         params.RoomAlias,
			RoomAvatarURL:     params.RoomAvatarURL,
			RoomName:          params.RoomName,
			SenderDisplayName: params.SenderDisplayName,
			SenderAvatarURL:   params.SenderAvatarURL,
		}, mail)
	})

	t.Run("store invite for bound threepid", func(t *T) {
		api := newCommonAPIClient(t, version)
		// each version binds its own address, since rebinding to the same user is up to the server
		address := fmt.Sprintf("already_here_%s@fake.test", version)
		session, err := api.RequestAndSubmitEmailCode(address)
		require.NoError(t, err)
		RequireSuccess(t)(api.BindEmail(session.Sid, session.ClientSecret, commonTestsUser))

		RequireErrCode(t, servicedef.ErrCodeThreepidInUse, servicedef.ErrCodeMThreepidInUse)(
			api.StoreInvite(servicedef.StoreInviteParams{
				Medium:  servicedef.MediumEmail,
				Address: address,
				RoomID:  "$aroom:fake.test",
				Sender:  "@sender:fake.test",
			}))
	})
}
