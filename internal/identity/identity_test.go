// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret")

func sign(t *testing.T, role Role) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func newProvider() *Provider {
	return New(Config{
		KeyFunc: func(*jwt.Token) (any, error) { return testSecret, nil },
	})
}

func TestRoleFromTokenCoordinator(t *testing.T) {
	p := newProvider()
	role, err := p.RoleFromToken(sign(t, RoleCoordinator))
	require.NoError(t, err)
	require.Equal(t, RoleCoordinator, role)
	require.NoError(t, RequireCoordinator(role))
}

func TestRoleFromTokenParticipantRejectedByRequireCoordinator(t *testing.T) {
	p := newProvider()
	role, err := p.RoleFromToken(sign(t, RoleParticipant))
	require.NoError(t, err)
	require.Equal(t, RoleParticipant, role)
	require.Error(t, RequireCoordinator(role))
}

func TestRoleFromTokenRejectsGarbage(t *testing.T) {
	p := newProvider()
	_, err := p.RoleFromToken("not-a-jwt")
	require.Error(t, err)
}
