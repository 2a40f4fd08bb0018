package database

import (
	"context"
	"time"

	"github.com/itstheanurag/gradebox/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type queryStartKey struct{}

// queryLogger logs every statement at debug level and failures at warn.
type queryLogger struct {
	log *zerolog.Logger
}

func (q *queryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q.log.Debug().Str("sql", data.SQL).Int("args", len(data.Args)).Msg("query started")
	return ctx
}

func (q *queryLogger) TraceQueryEnd(_ context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		q.log.Warn().Err(data.Err).Msg("query failed")
		return
	}
	q.log.Debug().Str("tag", data.CommandTag.String()).Msg("query finished")
}

type queryTimer struct{}

func (queryTimer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (queryTimer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	metrics.DBQueryDuration.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
}
