package istests

import (
	"github.com/matrix-org/identity-contract-tests/framework"
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/testenv"
)

// RunTestSuite runs every conformance test against the identity servers of env.
func RunTestSuite(
	env *testenv.Env,
	filter framework.Filter,
	testLogger framework.TestLogger,
) framework.Results {
	return framework.Run(filter, testLogger, func(c *framework.Context) {
		t := &T{context: c, env: env}

		t.Run("versions", DoVersionsTests)
		t.Run("v1", func(t *T) {
			DoCommonAPITests(t, isclient.V1)
			DoV1Tests(t)
		})
		t.Run("v2", func(t *T) {
			DoCommonAPITests(t, isclient.V2)
			DoV2Tests(t)
		})
		t.Run("terms", DoTermsTests)
		t.Run("account", DoAccountTests)
		t.Run("bind denied", DoBindDeniedTests)
	})
}
