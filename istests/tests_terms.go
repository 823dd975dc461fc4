package istests

import (
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/servicedef"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	privacyPolicy  = "privacy_policy"
	termsOfService = "terms_of_service"
)

// The identity server launched with terms must publish these policies, each in English and
// French.
var expectedPolicyVersions = map[string]string{
	privacyPolicy:  "1.2",
	termsOfService: "5.0",
}

func requirePolicies(t *T, api *isclient.Client) map[string]servicedef.Policy {
	resp := RequireSuccess(t)(api.GetTerms())
	ret := make(map[string]servicedef.Policy)
	for _, p := range servicedef.ParsePolicies(resp.Body) {
		ret[p.ID] = p
	}
	return ret
}

func requirePolicyURL(t *T, policies map[string]servicedef.Policy, id, lang string) string {
	url := policies[id].URL(lang)
	require.NotEmpty(t, url, "policy %s has no %s document", id, lang)
	return url
}

func assertTermsSigned(t *T, api *isclient.Client) {
	notSigned, err := api.CheckTermsSigned()
	require.NoError(t, err)
	if notSigned != nil {
		assert.Fail(t, "expected terms to be signed", "server responded %s", notSigned)
	}
}

func assertTermsNotSigned(t *T, api *isclient.Client, errCode string) {
	notSigned, err := api.CheckTermsSigned()
	require.NoError(t, err)
	require.NotNil(t, notSigned, "expected terms not to be signed")
	assert.Equal(t, errCode, notSigned.ErrCode())
}

// DoTermsTests covers the terms of service API, against servers with and without terms.
func DoTermsTests(t *T) {
	t.Run("get terms", func(t *T) {
		api := t.NewClient(testenv.WithTerms, isclient.V2)
		resp := RequireSuccess(t)(api.GetTerms())
		require.True(t, resp.Has("policies"), "response has no policies: %s", resp)

		policies := requirePolicies(t, api)
		for id, version := range expectedPolicyVersions {
			require.Contains(t, policies, id)
			assert.Equal(t, version, policies[id].Version, "version of %s", id)
			for _, lang := range []string{"en", "fr"} {
				doc, ok := policies[id].Documents[lang]
				if assert.True(t, ok, "policy %s has no %s document", id, lang) {
					assert.NotEmpty(t, doc.Name)
					assert.NotEmpty(t, doc.URL)
				}
			}
		}
	})

	t.Run("agree to terms", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		policies := requirePolicies(t, api)
		resp := RequireSuccess(t)(api.AgreeToTerms([]string{requirePolicyURL(t, policies, privacyPolicy, "en")}))
		assert.Equal(t, 0, resp.Body.Count())
	})

	t.Run("reject if not authenticated", func(t *T) {
		api := t.NewClient(testenv.WithTerms, isclient.V2)
		assertTermsNotSigned(t, api, servicedef.ErrCodeUnauthorized)
	})

	t.Run("reject if none agreed", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		assertTermsNotSigned(t, api, servicedef.ErrCodeTermsNotSigned)
	})

	t.Run("reject if not all agreed", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		policies := requirePolicies(t, api)
		RequireSuccess(t)(api.AgreeToTerms([]string{requirePolicyURL(t, policies, privacyPolicy, "en")}))
		assertTermsNotSigned(t, api, servicedef.ErrCodeTermsNotSigned)
	})

	t.Run("allow when all agreed", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		policies := requirePolicies(t, api)
		RequireSuccess(t)(api.AgreeToTerms([]string{
			requirePolicyURL(t, policies, privacyPolicy, "en"),
			requirePolicyURL(t, policies, termsOfService, "en"),
		}))
		assertTermsSigned(t, api)
	})

	t.Run("allow mixed languages", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		policies := requirePolicies(t, api)
		RequireSuccess(t)(api.AgreeToTerms([]string{
			requirePolicyURL(t, policies, privacyPolicy, "en"),
			requirePolicyURL(t, policies, termsOfService, "fr"),
		}))
		assertTermsSigned(t, api)
	})

	t.Run("allow agreeing in separate calls", func(t *T) {
		api := t.NewAccountClient(testenv.WithTerms, "")
		policies := requirePolicies(t, api)
		RequireSuccess(t)(api.AgreeToTerms([]string{requirePolicyURL(t, policies, privacyPolicy, "en")}))
		RequireSuccess(t)(api.AgreeToTerms([]string{requirePolicyURL(t, policies, termsOfService, "en")}))
		assertTermsSigned(t, api)
	})

	t.Run("no terms configured", func(t *T) {
		api := t.NewAccountClient(testenv.NoTerms, "")
		resp := RequireSuccess(t)(api.GetTerms())
		assert.Equal(t, 0, resp.Get("policies").Count(), "expected no policies, got %s", resp)
	})

	t.Run("allow if no terms configured", func(t *T) {
		api := t.NewAccountClient(testenv.NoTerms, "")
		assertTermsSigned(t, api)
	})
}
