// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package auth gates dashboard websocket admission. Widgets are anonymous
// by design; dashboards present a short-lived HS256 token minted by the
// Rhinon control plane, scoped to one chatbot.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DashboardClaims are the claims on a dashboard admission token.
type DashboardClaims struct {
	ChatbotID string `json:"chatbot_id"`
	jwt.RegisteredClaims
}

// ErrTenantMismatch is returned when a valid token is presented for a
// different tenant than the connection targets.
var ErrTenantMismatch = errors.New("token chatbot_id does not match tenant")

// Verifier validates dashboard admission tokens. A Verifier with no
// secret admits everything, for single-tenant and development setups.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret disables verification.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Mint issues a token scoped to one chatbot. Engage itself does not mint
// tokens in production, but the control plane shares this code path.
func (v *Verifier) Mint(chatbotID string, lifetime time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("cannot mint token without a secret")
	}

	now := time.Now()
	claims := &DashboardClaims{
		ChatbotID: chatbotID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, expiry, and tenant scope.
// With verification disabled it accepts any token, including none.
func (v *Verifier) Verify(tokenString, chatbotID string) error {
	if !v.Enabled() {
		return nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &DashboardClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*DashboardClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid token claims")
	}
	if claims.ChatbotID != chatbotID {
		return ErrTenantMismatch
	}
	return nil
}
