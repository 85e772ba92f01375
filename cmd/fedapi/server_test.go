package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/federation/device"
	"github.com/broady/fedapi/federation/discovery"
	"github.com/broady/fedapi/federation/openid"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/identity/authentication"
	"github.com/broady/fedapi/signing"
)

type testServer struct {
	*server
	url string
}

func startServer(t *testing.T, name string, resolve map[string]string) *testServer {
	t.Helper()
	raw := defaultConfig()
	raw.ServerName = name
	raw.KeyID = "ed25519:test"
	cfg, err := raw.resolve()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Resolve = resolve
	cfg.Devices = []DeviceConfig{{User: "@alice:" + name, DeviceID: "ABCDEFGH", DisplayName: "phone"}}

	key, _, err := cfg.signingKey()
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newServer(cfg, key, logger, http.DefaultClient)
	router, err := s.router()
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(router.Handler())
	t.Cleanup(ts.Close)
	resolve[name] = ts.URL
	return &testServer{server: s, url: ts.URL}
}

func serverName(s string) identifiers.ServerName {
	return identifiers.MustParse[identifiers.ServerNameKind](s)
}

func userID(s string) identifiers.UserID {
	return identifiers.MustParse[identifiers.UserKind](s)
}

func matrixErrCode(t *testing.T, err error) fedapi.ErrorCode {
	t.Helper()
	var se *fedapi.StatusError
	if !errors.As(err, &se) || se.Err == nil {
		t.Fatalf("expected a Matrix StatusError, got %v", err)
	}
	return se.Err.ErrCode
}

func TestServer_GetServerKeys(t *testing.T) {
	hs := startServer(t, "hs.test", map[string]string{})

	client := fedapi.NewClient(hs.url)
	res, err := fedapi.Send(context.Background(), client, discovery.GetServerKeys, discovery.GetServerKeysRequest{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ServerKey.ServerName != serverName("hs.test") {
		t.Errorf("server_name = %s", res.ServerKey.ServerName)
	}
	if _, ok := res.ServerKey.VerifyKeys[hs.key.ID()]; !ok {
		t.Errorf("verify_keys missing %s: %+v", hs.key.ID(), res.ServerKey.VerifyKeys)
	}
	if err := signing.NewKeyRing().AddServerKey(res.ServerKey); err != nil {
		t.Errorf("self-signature does not verify: %v", err)
	}
}

func TestServer_GetDevices(t *testing.T) {
	resolve := map[string]string{}
	hs := startServer(t, "hs.test", resolve)
	other := startServer(t, "other.test", resolve)

	tests := []struct {
		name     string
		origin   string
		signer   fedapi.Signer
		dest     string
		user     string
		wantCode fedapi.ErrorCode
	}{
		{name: "own key", origin: "hs.test", signer: hs.key, dest: "hs.test", user: "@alice:hs.test"},
		{name: "fetched origin key", origin: "other.test", signer: other.key, dest: "hs.test", user: "@alice:hs.test"},
		{name: "no destination", origin: "other.test", signer: other.key, user: "@alice:hs.test"},
		{name: "wrong key", origin: "other.test", signer: hs.key, dest: "hs.test", user: "@alice:hs.test", wantCode: fedapi.CodeUnauthorized},
		{name: "wrong destination", origin: "other.test", signer: other.key, dest: "elsewhere.test", user: "@alice:hs.test", wantCode: fedapi.CodeUnauthorized},
		{name: "remote user", origin: "other.test", signer: other.key, dest: "hs.test", user: "@bob:other.test", wantCode: fedapi.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := fedapi.Credentials{Origin: serverName(tt.origin), Signer: tt.signer}
			if tt.dest != "" {
				creds.Destination = serverName(tt.dest)
			}
			client := fedapi.NewClient(hs.url, fedapi.WithCredentials(creds))
			res, err := fedapi.Send(context.Background(), client, device.GetDevices, device.GetDevicesRequest{UserID: userID(tt.user)})

			if tt.wantCode != "" {
				if got := matrixErrCode(t, err); got != tt.wantCode {
					t.Errorf("errcode = %s, want %s", got, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.UserID != userID(tt.user) {
				t.Errorf("user_id = %s", res.UserID)
			}
			if len(res.Devices) != 1 || res.Devices[0].DeviceID.String() != "ABCDEFGH" || res.Devices[0].DisplayName != "phone" {
				t.Errorf("devices = %+v", res.Devices)
			}
		})
	}
}

func TestServer_GetDevicesUnsigned(t *testing.T) {
	hs := startServer(t, "hs.test", map[string]string{})

	resp, err := http.Get(hs.url + "/_matrix/federation/v1/user/devices/@alice:hs.test")
	if err != nil {
		t.Fatal(err)
	}
	_, err = device.GetDevices.ParseResponse(resp)
	resp.Body.Close()
	if got := matrixErrCode(t, err); got != fedapi.CodeMissingToken {
		t.Errorf("errcode = %s, want %s", got, fedapi.CodeMissingToken)
	}
}

func TestServer_NotaryQuery(t *testing.T) {
	resolve := map[string]string{}
	hs := startServer(t, "hs.test", resolve)
	other := startServer(t, "other.test", resolve)

	client := fedapi.NewClient(hs.url)
	res, err := fedapi.Send(context.Background(), client, discovery.GetRemoteServerKeys, discovery.GetRemoteServerKeysRequest{
		ServerName: serverName("other.test"),
		KeyID:      other.key.ID(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.ServerKeys) != 1 {
		t.Fatalf("server_keys = %+v", res.ServerKeys)
	}
	sk := res.ServerKeys[0]
	if sk.ServerName != serverName("other.test") {
		t.Errorf("server_name = %s", sk.ServerName)
	}
	if _, ok := sk.Signatures[serverName("hs.test")][hs.key.ID()]; !ok {
		t.Errorf("missing notary signature: %+v", sk.Signatures)
	}

	// Both signatures cover the key object without its signatures.
	if err := signing.NewKeyRing().AddServerKey(sk); err != nil {
		t.Fatalf("origin signature: %v", err)
	}
	msg, err := sk.SignedBytes()
	if err != nil {
		t.Fatal(err)
	}
	ring := signing.NewKeyRing()
	ring.Add(serverName("hs.test"), hs.key.ID(), hs.key.Public())
	notarySig := fedapi.Signature{
		Origin: serverName("hs.test"),
		KeyID:  hs.key.ID(),
		Value:  sk.Signatures[serverName("hs.test")][hs.key.ID()],
	}
	if err := ring.Verify(context.Background(), notarySig, msg); err != nil {
		t.Errorf("notary signature: %v", err)
	}

	res, err = fedapi.Send(context.Background(), client, discovery.GetRemoteServerKeys, discovery.GetRemoteServerKeysRequest{
		ServerName: serverName("other.test"),
		KeyID:      identifiers.MustParse[identifiers.KeyKind]("ed25519:unknown"),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.ServerKeys) != 0 {
		t.Errorf("expected no keys for an unknown key ID, got %d", len(res.ServerKeys))
	}

	resolve["missing.test"] = "http://127.0.0.1:1"
	_, err = fedapi.Send(context.Background(), client, discovery.GetRemoteServerKeys, discovery.GetRemoteServerKeysRequest{
		ServerName: serverName("missing.test"),
		KeyID:      other.key.ID(),
	})
	if got := matrixErrCode(t, err); got != fedapi.CodeNotFound {
		t.Errorf("errcode = %s, want %s", got, fedapi.CodeNotFound)
	}
}

func TestServer_IdentityRegistration(t *testing.T) {
	resolve := map[string]string{}
	is := startServer(t, "is.test", resolve)

	home := fedapi.NewRouter()
	err := home.Register(fedapi.Handle(openid.GetUserInfo, func(ctx context.Context, req openid.GetUserInfoRequest) (openid.GetUserInfoResponse, error) {
		switch req.AccessToken {
		case "openid-alice":
			return openid.GetUserInfoResponse{Sub: userID("@alice:home.test")}, nil
		case "openid-mallory":
			return openid.GetUserInfoResponse{Sub: userID("@mallory:evil.test")}, nil
		}
		return openid.GetUserInfoResponse{}, fedapi.NewError(fedapi.CodeUnknownToken, "bad token")
	}))
	if err != nil {
		t.Fatal(err)
	}
	homeServer := httptest.NewServer(home.Handler())
	defer homeServer.Close()
	resolve["home.test"] = homeServer.URL

	register := func(openIDToken string) (authentication.RegisterResponse, error) {
		return fedapi.Send(context.Background(), fedapi.NewClient(is.url), authentication.Register, authentication.RegisterRequest{
			AccessToken:      openIDToken,
			TokenType:        "Bearer",
			MatrixServerName: serverName("home.test"),
			ExpiresIn:        authentication.Seconds(time.Hour),
		})
	}

	reg, err := register("openid-alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Token == "" {
		t.Fatal("expected a token")
	}

	client := fedapi.NewClient(is.url, fedapi.WithCredentials(fedapi.Credentials{AccessToken: reg.Token}))
	info, err := fedapi.Send(context.Background(), client, authentication.GetAccountInformation, authentication.GetAccountInformationRequest{})
	if err != nil {
		t.Fatalf("GetAccountInformation: %v", err)
	}
	if info.UserID != userID("@alice:home.test") {
		t.Errorf("user_id = %s", info.UserID)
	}

	if _, err := register("openid-nobody"); matrixErrCode(t, err) != fedapi.CodeUnknownToken {
		t.Errorf("expected M_UNKNOWN_TOKEN for a rejected OpenID token, got %v", err)
	}
	if _, err := register("openid-mallory"); matrixErrCode(t, err) != fedapi.CodeForbidden {
		t.Errorf("expected M_FORBIDDEN for a foreign user, got %v", err)
	}

	client = fedapi.NewClient(is.url, fedapi.WithCredentials(fedapi.Credentials{AccessToken: "made-up"}))
	_, err = fedapi.Send(context.Background(), client, authentication.GetAccountInformation, authentication.GetAccountInformationRequest{})
	if got := matrixErrCode(t, err); got != fedapi.CodeUnknownToken {
		t.Errorf("errcode = %s, want %s", got, fedapi.CodeUnknownToken)
	}
}

func TestServer_Routes(t *testing.T) {
	hs := startServer(t, "hs.test", map[string]string{})
	router, err := hs.router()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, m := range router.Routes() {
		names[m.Name] = true
	}
	for _, want := range []string{"get_server_keys", "get_remote_server_keys", "get_devices", "register_account", "get_account_information"} {
		if !names[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestFetchingVerifier_UsesRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fetched bool
	v := &fetchingVerifier{
		ring: signing.NewKeyRing(),
		fetch: func(ctx context.Context, _ identifiers.ServerName) (discovery.ServerSigningKey, error) {
			fetched = true
			<-ctx.Done()
			return discovery.ServerSigningKey{}, ctx.Err()
		},
	}
	err := v.Verify(ctx, fedapi.Signature{
		Origin: serverName("remote.test"),
		KeyID:  identifiers.MustParse[identifiers.KeyKind]("ed25519:r"),
		Value:  "c2ln",
	}, []byte("{}"))
	if !fetched {
		t.Fatal("expected a key fetch for an unknown origin")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the request's cancellation, got %v", err)
	}
}
