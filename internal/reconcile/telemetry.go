package reconcile

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	recordsProcessed metric.Int64Counter
	changesApplied   metric.Int64Counter
	writeFailures    metric.Int64Counter
	batchesDeferred  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/bartek5186/stocksync/internal/reconcile")

	var err error
	recordsProcessed, err = meter.Int64Counter(
		"stocksync.reconcile.records_processed",
		metric.WithDescription("Number of catalog leaf records walked by reconciliation"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reconcile.records_processed counter")
	}

	changesApplied, err = meter.Int64Counter(
		"stocksync.reconcile.changes_applied",
		metric.WithDescription("Number of catalog updates applied and confirmed by re-read"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reconcile.changes_applied counter")
	}

	writeFailures, err = meter.Int64Counter(
		"stocksync.reconcile.write_failures",
		metric.WithDescription("Number of catalog writes that failed or were not persisted"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reconcile.write_failures counter")
	}

	batchesDeferred, err = meter.Int64Counter(
		"stocksync.reconcile.batches_deferred",
		metric.WithDescription("Number of batches deferred because the upstream budget was exhausted"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reconcile.batches_deferred counter")
	}
}

func recordBatch(ctx context.Context, res pageResult) {
	recordsProcessed.Add(ctx, int64(res.processed))
	changesApplied.Add(ctx, int64(res.changes))
	writeFailures.Add(ctx, int64(res.failures))
	if res.deferred {
		batchesDeferred.Add(ctx, 1)
	}
}
