package isclient

import (
	"encoding/json"
	"fmt"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Response is a parsed identity server response. Protocol-level failures such as
// M_INVALID_EMAIL arrive here as data, with the error code available from ErrCode.
type Response struct {
	StatusCode int
	Body       ldvalue.Value
	raw        []byte
}

func newResponse(status int, raw []byte) Response {
	return Response{StatusCode: status, Body: ldvalue.Parse(raw), raw: raw}
}

// ErrCode returns the "errcode" property of the body, or "" if there is none.
func (r Response) ErrCode() string {
	return r.Body.GetByKey("errcode").StringValue()
}

// ErrorMessage returns the "error" property of the body.
func (r Response) ErrorMessage() string {
	return r.Body.GetByKey("error").StringValue()
}

func (r Response) IsError() bool {
	return r.StatusCode >= 400 || r.ErrCode() != ""
}

func (r Response) OK() bool { return !r.IsError() }

// Get is shorthand for Body.GetByKey.
func (r Response) Get(key string) ldvalue.Value {
	return r.Body.GetByKey(key)
}

// Has reports whether the body is an object with the given key.
func (r Response) Has(key string) bool {
	for _, k := range r.Body.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Decode unmarshals the raw body into target.
func (r Response) Decode(target interface{}) error {
	if err := json.Unmarshal(r.raw, target); err != nil {
		return fmt.Errorf("malformed response body %q: %w", string(r.raw), err)
	}
	return nil
}

// Raw returns the body exactly as received.
func (r Response) Raw() []byte { return r.raw }

func (r Response) String() string {
	return fmt.Sprintf("%d %s", r.StatusCode, string(r.raw))
}
