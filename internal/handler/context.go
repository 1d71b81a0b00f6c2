package handler

import (
	"context"

	"github.com/ordlink/ordercore/internal/auth"
)

// performedBy identifies the actor recorded on order events. Authenticated
// requests use the token subject; everything else is attributed to "system".
func performedBy(ctx context.Context) string {
	if claims, ok := auth.ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "system"
}
