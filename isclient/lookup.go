package isclient

import (
	"net/url"

	"github.com/matrix-org/identity-contract-tests/servicedef"
)

// Lookup is the plain-text single lookup of the v1 API.
func (c *Client) Lookup(medium, address string) (Response, error) {
	return c.get("/lookup", url.Values{
		"medium":  {medium},
		"address": {address},
	})
}

// BulkLookup looks up several threepids at once. Threepids that are not bound are left out of
// the result.
func (c *Client) BulkLookup(threepids []servicedef.Threepid) (Response, error) {
	params := servicedef.BulkLookupParams{Threepids: make([][]string, 0, len(threepids))}
	for _, tp := range threepids {
		params.Threepids = append(params.Threepids, []string{tp.Medium, tp.Address})
	}
	return c.post("/bulk_lookup", params)
}

// HashDetails returns the algorithms and pepper to use for HashedLookup.
func (c *Client) HashDetails() (Response, error) {
	return c.get("/hash_details", nil)
}

// HashedLookup is the v2 lookup. The addresses must already be in the form the algorithm
// expects; with algorithm "none" that is "<address> <medium>".
func (c *Client) HashedLookup(addresses []string, algorithm, pepper string) (Response, error) {
	return c.post("/lookup", servicedef.HashedLookupParams{
		Addresses: addresses,
		Algorithm: algorithm,
		Pepper:    pepper,
	})
}
