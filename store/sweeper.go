package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/membank/authserver/session"
	"github.com/membank/authserver/token"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes expired authorization sessions and dead
// refresh tokens.
type Sweeper struct {
	sessions session.Store
	refresh  token.RefreshTokenStore
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(sessions session.Store, refresh token.RefreshTokenStore, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		sessions: sessions,
		refresh:  refresh,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sessionsRemoved, err := s.sessions.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("session sweep failed")
	}
	tokensRemoved, err := s.refresh.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("refresh token sweep failed")
	}
	if sessionsRemoved > 0 || tokensRemoved > 0 {
		s.logger.Info().
			Int64("sessions_removed", sessionsRemoved).
			Int64("refresh_tokens_removed", tokensRemoved).
			Msg("expired auth records swept")
	}
}
