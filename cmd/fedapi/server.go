package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/federation/device"
	"github.com/broady/fedapi/federation/discovery"
	"github.com/broady/fedapi/federation/openid"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/identity/authentication"
	"github.com/broady/fedapi/middleware"
	"github.com/broady/fedapi/signing"
	"github.com/google/uuid"
)

const fetchTimeout = 10 * time.Second

// server is a homeserver key endpoint, key notary, device list and identity
// service in one process.
type server struct {
	cfg    Config
	key    *signing.Key
	logger *slog.Logger
	http   *http.Client
	ring   *signing.KeyRing
	now    func() time.Time

	devices map[identifiers.UserID][]device.Device

	mu     sync.RWMutex
	tokens map[string]identifiers.UserID
}

func newServer(cfg Config, key *signing.Key, logger *slog.Logger, hc *http.Client) *server {
	s := &server{
		cfg:     cfg,
		key:     key,
		logger:  logger,
		http:    hc,
		ring:    signing.NewKeyRing(),
		now:     time.Now,
		devices: make(map[identifiers.UserID][]device.Device),
		tokens:  make(map[string]identifiers.UserID),
	}
	s.ring.Add(cfg.ServerName, key.ID(), key.Public())
	for _, d := range cfg.Devices {
		user := identifiers.MustParse[identifiers.UserKind](d.User)
		s.devices[user] = append(s.devices[user], device.Device{
			DeviceID:    identifiers.MustParse[identifiers.DeviceKind](d.DeviceID),
			DisplayName: d.DisplayName,
		})
	}
	return s
}

// router builds the Router serving every endpoint of the server.
func (s *server) router() (*fedapi.Router, error) {
	r := fedapi.NewRouter().
		WithLogger(s.logger).
		WithMaskInternalErrors().
		WithMaxRequestBodySize(s.cfg.MaxBodySize).
		WithVerifier(&fetchingVerifier{ring: s.ring, fetch: s.fetchServerKey}).
		WithRateLimiter(fedapi.NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)).
		WithUnaryInterceptor(middleware.LoggingInterceptor(s.logger)).
		WithUnaryInterceptor(s.checkDestination).
		WithMiddleware(middleware.CORS(nil))

	err := r.Register(
		fedapi.Handle(discovery.GetServerKeys, s.getServerKeys),
		fedapi.Handle(discovery.GetRemoteServerKeys, s.getRemoteServerKeys),
		fedapi.Handle(device.GetDevices, s.getDevices),
		fedapi.Handle(authentication.Register, s.register),
		fedapi.Handle(authentication.GetAccountInformation, s.getAccountInformation),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// checkDestination rejects signed requests addressed to another server.
func (s *server) checkDestination(ctx *fedapi.Context, req any, handler fedapi.HandlerFunc) (any, error) {
	sig := ctx.Caller().Signature
	if sig != nil && !sig.Destination.IsZero() && sig.Destination != s.cfg.ServerName {
		return nil, fedapi.Errorf(fedapi.CodeUnauthorized, "request is addressed to %s", sig.Destination)
	}
	return handler(ctx, req)
}

func (s *server) getServerKeys(ctx context.Context, _ discovery.GetServerKeysRequest) (discovery.GetServerKeysResponse, error) {
	sk, err := s.key.ServerKey(s.cfg.ServerName, s.now().Add(s.cfg.KeyValidity))
	if err != nil {
		return discovery.GetServerKeysResponse{}, err
	}
	return discovery.GetServerKeysResponse{ServerKey: sk}, nil
}

func (s *server) getRemoteServerKeys(ctx context.Context, req discovery.GetRemoteServerKeysRequest) (discovery.GetRemoteServerKeysResponse, error) {
	var (
		sk  discovery.ServerSigningKey
		err error
	)
	if req.ServerName == s.cfg.ServerName {
		sk, err = s.key.ServerKey(s.cfg.ServerName, s.now().Add(s.cfg.KeyValidity))
	} else {
		sk, err = s.fetchServerKey(ctx, req.ServerName)
		if err == nil {
			err = s.ring.AddServerKey(sk)
		}
	}
	if err != nil {
		return discovery.GetRemoteServerKeysResponse{}, fedapi.Errorf(fedapi.CodeNotFound, "keys of %s unavailable: %v", req.ServerName, err)
	}
	if _, ok := sk.VerifyKeys[req.KeyID]; !ok {
		if _, old := sk.OldVerifyKeys[req.KeyID]; !old {
			return discovery.GetRemoteServerKeysResponse{ServerKeys: []discovery.ServerSigningKey{}}, nil
		}
	}
	if req.MinimumValidUntilTS > 0 && sk.ValidUntilTS < req.MinimumValidUntilTS {
		s.logger.WarnContext(ctx, "remote keys expire before requested time",
			slog.String("server", req.ServerName.String()),
			slog.Int64("valid_until_ts", sk.ValidUntilTS))
	}

	if req.ServerName != s.cfg.ServerName {
		notarized, err := s.key.Notarize(s.cfg.ServerName, sk)
		if err != nil {
			return discovery.GetRemoteServerKeysResponse{}, err
		}
		sk = notarized
	}
	return discovery.GetRemoteServerKeysResponse{ServerKeys: []discovery.ServerSigningKey{sk}}, nil
}

func (s *server) getDevices(ctx context.Context, req device.GetDevicesRequest) (device.GetDevicesResponse, error) {
	if identifiers.UserServerName(req.UserID) != s.cfg.ServerName {
		return device.GetDevicesResponse{}, fedapi.Errorf(fedapi.CodeForbidden, "%s is not a local user", req.UserID)
	}
	devices := s.devices[req.UserID]
	if devices == nil {
		devices = []device.Device{}
	}
	return device.GetDevicesResponse{UserID: req.UserID, Devices: devices}, nil
}

func (s *server) register(ctx context.Context, req authentication.RegisterRequest) (authentication.RegisterResponse, error) {
	client := fedapi.NewClient(s.cfg.baseURL(req.MatrixServerName), fedapi.WithHTTPClient(s.http), fedapi.WithUserAgent(userAgent()))
	info, err := fedapi.Send(ctx, client, openid.GetUserInfo, openid.GetUserInfoRequest{AccessToken: req.AccessToken})
	if err != nil {
		var se *fedapi.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			return authentication.RegisterResponse{}, fedapi.NewError(fedapi.CodeUnknownToken, "OpenID token rejected by homeserver")
		}
		return authentication.RegisterResponse{}, fmt.Errorf("verify OpenID token with %s: %w", req.MatrixServerName, err)
	}
	if identifiers.UserServerName(info.Sub) != req.MatrixServerName {
		return authentication.RegisterResponse{}, fedapi.Errorf(fedapi.CodeForbidden, "%s does not belong to %s", info.Sub, req.MatrixServerName)
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = info.Sub
	s.mu.Unlock()
	return authentication.RegisterResponse{Token: token}, nil
}

func (s *server) getAccountInformation(ctx context.Context, _ authentication.GetAccountInformationRequest) (authentication.GetAccountInformationResponse, error) {
	fc, ok := fedapi.FromContext(ctx)
	if !ok {
		return authentication.GetAccountInformationResponse{}, fedapi.NewError(fedapi.CodeUnknownToken, "no access token")
	}
	s.mu.RLock()
	user, ok := s.tokens[fc.Caller().AccessToken]
	s.mu.RUnlock()
	if !ok {
		return authentication.GetAccountInformationResponse{}, fedapi.NewError(fedapi.CodeUnknownToken, "unrecognised access token")
	}
	return authentication.GetAccountInformationResponse{UserID: user}, nil
}

// fetchServerKey asks server for its published keys.
func (s *server) fetchServerKey(ctx context.Context, server identifiers.ServerName) (discovery.ServerSigningKey, error) {
	client := fedapi.NewClient(s.cfg.baseURL(server), fedapi.WithHTTPClient(s.http), fedapi.WithUserAgent(userAgent()))
	res, err := fedapi.Send(ctx, client, discovery.GetServerKeys, discovery.GetServerKeysRequest{})
	if err != nil {
		return discovery.ServerSigningKey{}, err
	}
	if res.ServerKey.ServerName != server {
		return discovery.ServerSigningKey{}, fmt.Errorf("keys are for %s, not %s", res.ServerKey.ServerName, server)
	}
	return res.ServerKey, nil
}

// fetchingVerifier verifies X-Matrix signatures, fetching the keys of
// unknown origins on first use.
type fetchingVerifier struct {
	ring  *signing.KeyRing
	fetch func(context.Context, identifiers.ServerName) (discovery.ServerSigningKey, error)
}

func (v *fetchingVerifier) Verify(ctx context.Context, sig fedapi.Signature, message []byte) error {
	err := v.ring.Verify(ctx, sig, message)
	if !errors.Is(err, signing.ErrUnknownKey) {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	sk, err := v.fetch(ctx, sig.Origin)
	if err != nil {
		return fmt.Errorf("fetch keys of %s: %w", sig.Origin, err)
	}
	if err := v.ring.AddServerKey(sk); err != nil {
		return err
	}
	return v.ring.Verify(ctx, sig, message)
}
