package upstream

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	fetchCounter     metric.Int64Counter
	rejectionCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/bartek5186/stocksync/internal/upstream")

	var err error
	fetchCounter, err = meter.Int64Counter(
		"stocksync.upstream.fetches",
		metric.WithDescription("Number of upstream product lookups by outcome"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create upstream.fetches counter")
	}

	rejectionCounter, err = meter.Int64Counter(
		"stocksync.upstream.rejections",
		metric.WithDescription("Number of in-band rate limit rejections from upstream"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create upstream.rejections counter")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "failed"
	}
}

func recordFetch(ctx context.Context, err error) {
	fetchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func recordRejection(ctx context.Context) {
	rejectionCounter.Add(ctx, 1)
}
