package istests

import (
	"github.com/matrix-org/identity-contract-tests/isclient"
	"github.com/matrix-org/identity-contract-tests/testenv"

	"github.com/stretchr/testify/assert"
)

// DoVersionsTests checks the list of supported specification versions.
func DoVersionsTests(t *T) {
	t.Run("supports v1.1", func(t *T) {
		api := t.NewClient(testenv.NoTerms, isclient.V1)
		resp := RequireSuccess(t)(api.Versions())
		list := resp.Get("versions")
		var versions []string
		for i := 0; i < list.Count(); i++ {
			versions = append(versions, list.GetByIndex(i).StringValue())
		}
		assert.Contains(t, versions, "v1.1")
	})
}
