package handler

import (
	"context"

	"github.com/steptrack/steptrack/internal/domain"
)

func contextWithPlayer(ctx context.Context, player *domain.Player) context.Context {
	return context.WithValue(ctx, playerContextKey, player)
}

// playerFromContext returns the authenticated player. Only reachable behind
// authMiddleware, so the value is always present.
func playerFromContext(ctx context.Context) *domain.Player {
	player, _ := ctx.Value(playerContextKey).(*domain.Player)
	return player
}
