package istests

import (
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DoV2Tests covers the hashed lookup of the v2 API.
func DoV2Tests(t *T) {
	t.Run("bind and hashed lookup", func(t *T) {
		api := newCommonAPIClient(t, isclient.V2)
		bindResp := bindValidatedEmail(t, api, "fakeemail6@nowhere.test", commonTestsUser)
		AssertThreepid(t, bindResp, servicedef.MediumEmail, "fakeemail6@nowhere.test")
		assert.Equal(t, commonTestsUser, bindResp.Get("mxid").StringValue())

		var details servicedef.HashDetailsResponse
		require.NoError(t, RequireSuccess(t)(api.HashDetails()).Decode(&details))
		assert.Contains(t, details.Algorithms, "none")

		lookup := "fakeemail6@nowhere.test " + servicedef.MediumEmail
		var result servicedef.HashedLookupResponse
		require.NoError(t, RequireSuccess(t)(api.HashedLookup([]string{lookup}, "none", details.LookupPepper)).
			Decode(&result))
		assert.Equal(t, map[string]string{lookup: commonTestsUser}, result.Mappings)
	})
}
