package istests

import (
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/servicedef"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindValidatedEmail(t *T, api *isclient.Client, address, mxid string) isclient.Response {
	session, err := api.RequestAndSubmitEmailCode(address)
	require.NoError(t, err)
	return RequireSuccess(t)(api.BindEmail(session.Sid, session.ClientSecret, mxid))
}

// DoV1Tests covers the plain-text lookups of the v1 API.
func DoV1Tests(t *T) {
	t.Run("bulk lookup", func(t *T) {
		api := t.NewClient(testenv.NoTerms, isclient.V1)
		bindValidatedEmail(t, api, "thing1@nowhere.test", "@thing1:fake.test")
		bindValidatedEmail(t, api, "thing2@nowhere.test", "@thing2:fake.test")

		resp := RequireSuccess(t)(api.BulkLookup([]servicedef.Threepid{
			{Medium: servicedef.MediumEmail, Address: "thing1@nowhere.test"},
			{Medium: servicedef.MediumEmail, Address: "thing2@nowhere.test"},
			{Medium: servicedef.MediumEmail, Address: "thing3@nowhere.test"},
		}))
		var result servicedef.BulkLookupResponse
		require.NoError(t, resp.Decode(&result))
		assert.ElementsMatch(t, [][]string{
			{servicedef.MediumEmail, "thing1@nowhere.test", "@thing1:fake.test"},
			{servicedef.MediumEmail, "thing2@nowhere.test", "@thing2:fake.test"},
		}, result.Threepids)
	})

	t.Run("bind and lookup", func(t *T) {
		api := t.NewClient(testenv.NoTerms, isclient.V1)
		bindResp := bindValidatedEmail(t, api, "fakeemail3@nowhere.test", "@some_mxid:fake.test")
		var bound servicedef.ThreepidBinding
		require.NoError(t, bindResp.Decode(&bound))
		assert.Equal(t, servicedef.MediumEmail, bound.Medium)
		assert.Equal(t, "fakeemail3@nowhere.test", bound.Address)
		assert.Equal(t, "@some_mxid:fake.test", bound.MXID)

		lookupResp := RequireSuccess(t)(api.Lookup(servicedef.MediumEmail, "fakeemail3@nowhere.test"))
		var found servicedef.ThreepidBinding
		require.NoError(t, lookupResp.Decode(&found))
		assert.Equal(t, bound, found)
	})

	t.Run("rebind to another account is rejected", func(t *T) {
		api := t.NewClient(testenv.NoTerms, isclient.V1)
		first := bindValidatedEmail(t, api, "rebound@nowhere.test", "@first_owner:fake.test")

		session, err := api.RequestAndSubmitEmailCode("rebound@nowhere.test")
		require.NoError(t, err)
		RequireErrCode(t, servicedef.ErrCodeThreepidInUse, servicedef.ErrCodeMThreepidInUse)(
			api.BindEmail(session.Sid, session.ClientSecret, "@second_owner:fake.test"))

		lookupResp := RequireSuccess(t)(api.Lookup(servicedef.MediumEmail, "rebound@nowhere.test"))
		assert.Equal(t, first.Get("mxid").StringValue(), lookupResp.Get("mxid").StringValue())
	})
}
