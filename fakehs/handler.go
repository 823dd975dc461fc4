package fakehs

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/matrix-org/identity-contract-tests/servicedef"
)

// UserInfoPath is the federation endpoint an identity server calls to find out which user an
// OpenID token belongs to.
const UserInfoPath = "/_matrix/federation/v1/openid/userinfo"

type userInfoResponse struct {
	Sub string `json:"sub"`
}

// NewHandler returns the HTTP handler of the fake homeserver. It implements only the OpenID
// userinfo endpoint; everything else is a 404.
func NewHandler(logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != UserInfoPath || r.Method != http.MethodGet {
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("unknown request")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Not found"))
			return
		}

		token := r.URL.Query().Get("access_token")
		userID, ok := UserForToken(token)
		if !ok {
			logger.Debug().Str("token", token).Msg("rejected token")
			writeJSON(w, http.StatusUnauthorized, servicedef.ErrorBody{
				ErrCode: servicedef.ErrCodeUnknownToken,
				Error:   "Not a valid token: try again.",
			})
			return
		}

		logger.Debug().Str("user_id", userID).Msg("resolved token")
		writeJSON(w, http.StatusOK, userInfoResponse{Sub: userID})
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
