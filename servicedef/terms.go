package servicedef

import (
	"sort"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Policy is one published policy from the terms catalog. A policy has a version and one
// document per language, each with a name and a URL.
type Policy struct {
	ID        string
	Version   string
	Documents map[string]PolicyDocument
}

type PolicyDocument struct {
	Name string
	URL  string
}

// ParsePolicies reads the "policies" object of a GET /terms response. Keys of a policy other
// than "version" are language codes.
func ParsePolicies(terms ldvalue.Value) []Policy {
	policies := terms.GetByKey("policies")
	ids := policies.Keys()
	sort.Strings(ids)
	ret := make([]Policy, 0, len(ids))
	for _, id := range ids {
		p := policies.GetByKey(id)
		policy := Policy{
			ID:        id,
			Version:   p.GetByKey("version").StringValue(),
			Documents: make(map[string]PolicyDocument),
		}
		for _, lang := range p.Keys() {
			if lang == "version" {
				continue
			}
			doc := p.GetByKey(lang)
			policy.Documents[lang] = PolicyDocument{
				Name: doc.GetByKey("name").StringValue(),
				URL:  doc.GetByKey("url").StringValue(),
			}
		}
		ret = append(ret, policy)
	}
	return ret
}

// URL returns the URL of the policy document in the given language, or "" if there is none.
func (p Policy) URL(lang string) string {
	return p.Documents[lang].URL
}
