// Package openid declares the federation endpoint that exchanges an OpenID
// token for the identity of the user it was issued to.
package openid

import (
	"net/http"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/identifiers"
)

// GetUserInfoRequest carries the OpenID token as a query parameter. The
// token is request data here, not a credential of the call.
type GetUserInfoRequest struct {
	AccessToken string `json:"access_token" fed:"query" validate:"required"`
}

type GetUserInfoResponse struct {
	// Sub is the user the token was issued to.
	Sub identifiers.UserID `json:"sub"`
}

// GetUserInfo exchanges an OpenID token for information about the user who
// generated it.
var GetUserInfo = fedapi.MustDefine[GetUserInfoRequest, GetUserInfoResponse](fedapi.Metadata{
	Name:           "get_openid_userinfo",
	Description:    "Exchanges an OpenID access token for information about the user who generated the token.",
	Method:         http.MethodGet,
	Path:           "/_matrix/federation/v1/openid/userinfo",
	Authentication: fedapi.AuthNone,
})
