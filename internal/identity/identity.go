// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package identity is the identity provider adapter (spec §1): OAuth
// device-flow login for interactive contributor clients, and JWT role-claim
// extraction so the api layer can tell a coordinator caller from an
// ordinary participant.
package identity

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"

	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
)

// Role is the participant/coordinator claim embedded in an access token.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleCoordinator Role = "coordinator"
)

// Claims is the subset of an access token's payload the coordinator reads.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Provider drives the OAuth device-authorization grant and validates the
// resulting tokens' role claim.
type Provider struct {
	oauthCfg  oauth2.Config
	deviceURL string
	keyFunc   jwt.Keyfunc
}

// Config collects Provider's fixed dependencies.
type Config struct {
	ClientID     string
	ClientSecret string
	DeviceAuthURL string
	TokenURL     string
	Scopes       []string
	KeyFunc      jwt.Keyfunc // resolves the signing key for a given token, e.g. from a JWKS cache.
}

// New builds a Provider from cfg.
func New(cfg Config) *Provider {
	return &Provider{
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, DeviceAuthURL: cfg.DeviceAuthURL},
		},
		deviceURL: cfg.DeviceAuthURL,
		keyFunc:   cfg.KeyFunc,
	}
}

// StartDeviceLogin begins the device authorization grant, returning the
// code the client should print ("visit <VerificationURI> and enter
// <UserCode>") and the in-flight auth state to poll with PollDeviceLogin.
func (p *Provider) StartDeviceLogin(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	resp, err := p.oauthCfg.DeviceAuth(ctx)
	if err != nil {
		return nil, cerrors.Internal(errors.Wrap(err, "identity: starting device authorization"))
	}
	return resp, nil
}

// PollDeviceLogin blocks until the user completes the device flow (or it
// expires), returning the resulting token.
func (p *Provider) PollDeviceLogin(ctx context.Context, auth *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	tok, err := p.oauthCfg.DeviceAccessToken(ctx, auth)
	if err != nil {
		return nil, cerrors.Unauthenticated(fmt.Sprintf("identity: device login did not complete: %v", err))
	}
	return tok, nil
}

// Authenticate parses and validates tokenString's JWT access token,
// returning its claims (role plus the standard subject/expiry fields).
func (p *Provider) Authenticate(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, p.keyFunc)
	if err != nil || !token.Valid {
		return Claims{}, cerrors.Unauthenticated("identity: invalid or expired token")
	}
	if claims.Role != RoleParticipant && claims.Role != RoleCoordinator {
		return Claims{}, cerrors.Unauthenticated("identity: token carries no recognized role claim")
	}
	return claims, nil
}

// RoleFromToken parses and validates tok's JWT access token, returning its
// role claim.
func (p *Provider) RoleFromToken(tokenString string) (Role, error) {
	claims, err := p.Authenticate(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

// RequireCoordinator is a convenience guard for coordinator-only entry
// points (spec §6's "(coord)" annotations).
func RequireCoordinator(role Role) error {
	if role != RoleCoordinator {
		return cerrors.PermissionDenied("this operation requires the coordinator role")
	}
	return nil
}
