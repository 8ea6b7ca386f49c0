// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"campaign-delivery/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// Simple sampling: keep first 100, then 1 every 100 thereafter.
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

// Context keys for pipeline identifiers carried across component boundaries.
type ctxKey string

const (
	ctxCampaignID ctxKey = "campaign_id"
	ctxJobID      ctxKey = "job_id"
	ctxSendID     ctxKey = "send_id"
)

// With attaches pipeline id fields present on ctx to the given logger.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxCampaignID); v != nil {
		l = l.Str("campaign_id", v.(string))
	}
	if v := ctx.Value(ctxJobID); v != nil {
		l = l.Str("job_id", v.(string))
	}
	if v := ctx.Value(ctxSendID); v != nil {
		l = l.Str("send_id", v.(string))
	}
	logger := l.Logger()
	return &logger
}

func WithCampaignID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCampaignID, id)
}
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxJobID, id)
}
func WithSendID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxSendID, id)
}
