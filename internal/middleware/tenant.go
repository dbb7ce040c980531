// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package middleware

import (
	"context"
	"net/http"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/tenant"
)

// Tenant resolves the tenant from the request host and stores it in the
// context. Hosts that name no tenant pass through unresolved; handlers
// that require a tenant check GetTenantID themselves, because widget
// routes can also carry the tenant explicitly in the path.
func Tenant(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := resolver.Resolve(r.Host)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			ctx = logging.ContextWithTenantID(ctx, tenantID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantID extracts the resolved tenant from context. Empty when the
// host named no tenant.
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}
