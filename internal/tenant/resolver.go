// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package tenant maps an inbound request's host to a tenant identifier.
//
// The resolver is pure: no I/O, no state, and malformed input is a plain
// not-found rather than an error condition worth surfacing.
package tenant

import (
	"errors"
	"net"
	"strings"
)

// ErrNotFound is returned when no tenant can be inferred from a host.
// Callers fall back to an anonymous state and skip channel admission.
var ErrNotFound = errors.New("tenant: not found")

// Resolver extracts tenant ids from hostnames. The zero value is not usable;
// construct with NewResolver.
type Resolver struct {
	devTenantID string
	localMarker string
}

// NewResolver creates a resolver. devTenantID is returned for any host that
// contains the local-development marker ("localhost" when marker is empty).
func NewResolver(devTenantID, localMarker string) *Resolver {
	if localMarker == "" {
		localMarker = "localhost"
	}
	return &Resolver{devTenantID: devTenantID, localMarker: localMarker}
}

// Resolve maps a host (optionally carrying a port) to a tenant id.
//
// Rules, in order:
//  1. Host containing the local-development marker resolves to the fixed
//     development tenant.
//  2. IP hosts name no tenant: ErrNotFound.
//  3. A leading "www." label is stripped.
//  4. Fewer than three dot-separated labels cannot name a tenant: a bare or
//     two-label domain has no subdomain to read, so ErrNotFound.
//  5. Otherwise the first label is the tenant id.
func (r *Resolver) Resolve(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", ErrNotFound
	}

	if strings.Contains(host, r.localMarker) {
		return r.devTenantID, nil
	}

	// Drop any port suffix before inspecting labels.
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}

	// IP hosts have no subdomain to read.
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", ErrNotFound
	}

	host = strings.TrimPrefix(host, "www.")

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", ErrNotFound
	}
	if labels[0] == "" {
		return "", ErrNotFound
	}

	return labels[0], nil
}
