// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Mint("acme", time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if token == "" {
		t.Fatal("Mint() returned empty token")
	}

	if err := v.Verify(token, "acme"); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

func TestVerifyTenantMismatch(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Mint("acme", time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	err = v.Verify(token, "globex")
	if !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("Verify() error = %v, want ErrTenantMismatch", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Mint("acme", -time.Minute)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if err := v.Verify(token, "acme"); err == nil {
		t.Error("Verify() accepted an expired token")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	minter := NewVerifier("secret-one")
	verifier := NewVerifier("secret-two")

	token, err := minter.Mint("acme", time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if err := verifier.Verify(token, "acme"); err == nil {
		t.Error("Verify() accepted a token signed with a different secret")
	}
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	v := NewVerifier("test-secret")

	// alg=none with an empty signature.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &DashboardClaims{ChatbotID: "acme"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if err := v.Verify(signed, "acme"); err == nil {
		t.Error("Verify() accepted an unsigned token")
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	v := NewVerifier("test-secret")

	if err := v.Verify("not-a-jwt", "acme"); err == nil {
		t.Error("Verify() accepted a malformed token")
	}
}

func TestVerifierDisabled(t *testing.T) {
	v := NewVerifier("")

	if v.Enabled() {
		t.Error("Enabled() = true for empty secret")
	}
	if err := v.Verify("", "acme"); err != nil {
		t.Errorf("Verify() error = %v with verification disabled", err)
	}
	if err := v.Verify("garbage", "acme"); err != nil {
		t.Errorf("Verify() error = %v with verification disabled", err)
	}
	if _, err := v.Mint("acme", time.Hour); err == nil {
		t.Error("Mint() succeeded without a secret")
	}
}
