package auth

import (
	"context"

	"github.com/af-corp/warden/internal/types"
)

type contextKey string

const authContextKey contextKey = "warden_auth"

// AuthInfo is the authenticated connector identity.
type AuthInfo struct {
	KeyID     string
	SurfaceID string
	Tier      types.Tier
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
