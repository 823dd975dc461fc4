package istests

import (
	"github.com/matrix-org/identity-contract-tests/servicedef"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DoAccountTests covers registration, the account endpoint and logout.
func DoAccountTests(t *T) {
	t.Run("account belongs to token user", func(t *T) {
		api := t.NewAccountClient(testenv.NoTerms, "@jimmy_account_test:fake.test")
		var account servicedef.AccountResponse
		require.NoError(t, RequireSuccess(t)(api.Account()).Decode(&account))
		assert.Equal(t, "@jimmy_account_test:fake.test", account.UserID)
	})

	t.Run("logout", func(t *T) {
		api := t.NewAccountClient(testenv.NoTerms, "")
		resp := RequireSuccess(t)(api.Account())
		assert.NotEmpty(t, resp.Get("user_id").StringValue())

		RequireSuccess(t)(api.Logout())

		RequireErrCode(t, servicedef.ErrCodeUnauthorized)(api.Account())
	})
}

// DoBindDeniedTests checks that an account can only bind threepids to its own user ID.
func DoBindDeniedTests(t *T) {
	t.Run("bind to another user", func(t *T) {
		api := t.NewAccountClient(testenv.NoTerms, "@bob:fake.test")
		session, err := api.RequestAndSubmitEmailCode("perfectly_valid_email@nowhere.test")
		if !assert.NoError(t, err) {
			return
		}
		RequireErrCode(t, servicedef.ErrCodeUnauthorized)(
			api.BindEmail(session.Sid, session.ClientSecret, "@alice:fake.test"))
	})
}
