// Package authentication declares the identity service account endpoints.
package authentication

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/identifiers"
)

// Seconds is a duration carried on the wire as whole seconds.
type Seconds time.Duration

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// RegisterRequest exchanges an OpenID token issued by a homeserver.
//
// AccessToken is the OpenID token itself, sent in the body. It is not the
// credential of the request; the endpoint requires no authentication.
type RegisterRequest struct {
	AccessToken      string                 `json:"access_token" validate:"required"`
	TokenType        string                 `json:"token_type" validate:"eq=Bearer"`
	MatrixServerName identifiers.ServerName `json:"matrix_server_name"`
	ExpiresIn        Seconds                `json:"expires_in"`
}

type RegisterResponse struct {
	// Token authenticates future requests to the identity server.
	Token string `json:"token" validate:"required"`
}

// Register exchanges an OpenID token from the homeserver for an access
// token of the identity server.
var Register = fedapi.MustDefine[RegisterRequest, RegisterResponse](fedapi.Metadata{
	Name:           "register_account",
	Description:    "Exchanges an OpenID token from the homeserver for an access token to access the identity server.",
	Method:         http.MethodPost,
	Path:           "/_matrix/identity/v2/account/register",
	Authentication: fedapi.AuthNone,
})

type GetAccountInformationRequest struct{}

type GetAccountInformationResponse struct {
	// UserID registered the token.
	UserID identifiers.UserID `json:"user_id"`
}

// GetAccountInformation reports which user owns the access token of the
// request.
var GetAccountInformation = fedapi.MustDefine[GetAccountInformationRequest, GetAccountInformationResponse](fedapi.Metadata{
	Name:           "get_account_information",
	Description:    "Gets information about what user owns the access token used in the request.",
	Method:         http.MethodGet,
	Path:           "/_matrix/identity/v2/account",
	Authentication: fedapi.AuthAccessToken,
})
