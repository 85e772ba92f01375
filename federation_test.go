package fedapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/federation/device"
	"github.com/broady/fedapi/federation/discovery"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/signing"
)

func TestGetServerKeys_Request(t *testing.T) {
	r, err := discovery.GetServerKeys.NewRequest(context.Background(), "https://matrix.example.org:8448", discovery.GetServerKeysRequest{}, fedapi.Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Method != http.MethodGet || r.URL.String() != "https://matrix.example.org:8448/_matrix/key/v2/server" {
		t.Errorf("request = %s %s", r.Method, r.URL)
	}
	if r.Body != nil {
		t.Error("expected no body")
	}
	if r.Header.Get("Authorization") != "" {
		t.Error("expected no credentials")
	}
}

func TestGetServerKeys_PayloadResponse(t *testing.T) {
	key, err := signing.NewKey(identifiers.MustParse[identifiers.KeyKind]("ed25519:1"), make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	server := identifiers.MustParse[identifiers.ServerNameKind]("example.org")
	sk, err := key.ServerKey(server, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatal(err)
	}

	m, err := discovery.GetServerKeys.EncodeResponse(discovery.GetServerKeysResponse{ServerKey: sk})
	if err != nil {
		t.Fatal(err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(m.Body, &top); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"server_name", "verify_keys", "old_verify_keys", "signatures", "valid_until_ts"} {
		if _, ok := top[k]; !ok {
			t.Errorf("key object missing %q: %s", k, m.Body)
		}
	}

	res, err := discovery.GetServerKeys.DecodeResponse(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := signing.NewKeyRing().AddServerKey(res.ServerKey); err != nil {
		t.Errorf("decoded key object does not verify: %v", err)
	}
}

func TestGetRemoteServerKeys_Request(t *testing.T) {
	r, err := discovery.GetRemoteServerKeys.NewRequest(context.Background(), "https://notary.test", discovery.GetRemoteServerKeysRequest{
		ServerName:          identifiers.MustParse[identifiers.ServerNameKind]("example.org"),
		KeyID:               identifiers.MustParse[identifiers.KeyKind]("ed25519:abc"),
		MinimumValidUntilTS: 1234,
	}, fedapi.Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.URL.RequestURI(); got != "/_matrix/key/v2/query/example.org/ed25519:abc?minimum_valid_until_ts=1234" {
		t.Errorf("uri = %s", got)
	}

	r, err = discovery.GetRemoteServerKeys.NewRequest(context.Background(), "https://notary.test", discovery.GetRemoteServerKeysRequest{
		ServerName: identifiers.MustParse[identifiers.ServerNameKind]("example.org"),
		KeyID:      identifiers.MustParse[identifiers.KeyKind]("ed25519:abc"),
	}, fedapi.Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if r.URL.RawQuery != "" {
		t.Errorf("zero optional query should be omitted, got %q", r.URL.RawQuery)
	}
}

func TestGetDevices_Signed(t *testing.T) {
	origin := identifiers.MustParse[identifiers.ServerNameKind]("origin.test")
	key, err := signing.GenerateKey("k1")
	if err != nil {
		t.Fatal(err)
	}
	ring := signing.NewKeyRing()
	ring.Add(origin, key.ID(), key.Public())

	alice := identifiers.MustParse[identifiers.UserKind]("@alice:hs.test")
	router := fedapi.NewRouter().WithVerifier(ring)
	err = router.Register(fedapi.Handle(device.GetDevices, func(ctx context.Context, req device.GetDevicesRequest) (device.GetDevicesResponse, error) {
		return device.GetDevicesResponse{
			UserID:   req.UserID,
			StreamID: 3,
			Devices:  []device.Device{{DeviceID: identifiers.MustParse[identifiers.DeviceKind]("JLAFKJWSCS")}},
		}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(router.Handler())
	defer ts.Close()

	client := fedapi.NewClient(ts.URL, fedapi.WithCredentials(fedapi.Credentials{
		Origin:      origin,
		Destination: identifiers.MustParse[identifiers.ServerNameKind]("hs.test"),
		Signer:      key,
	}))
	res, err := fedapi.Send(context.Background(), client, device.GetDevices, device.GetDevicesRequest{UserID: alice})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.UserID != alice || res.StreamID != 3 || len(res.Devices) != 1 {
		t.Errorf("res = %+v", res)
	}

	resp, err := http.Get(ts.URL + "/_matrix/federation/v1/user/devices/@alice:hs.test")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unsigned request: status %d, body %s", resp.StatusCode, body)
	}
}
