package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

type traceKey struct{}

type queryTrace struct {
	start time.Time
	sql   string
}

// QueryTracer logs every statement pgx executes at debug level and failed
// statements at warn level.
type QueryTracer struct {
	logger *slog.Logger
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func NewQueryTracer(logger *slog.Logger) *QueryTracer {
	return &QueryTracer{logger: logger.With("component", "pgx")}
}

func (qt *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, &queryTrace{start: time.Now(), sql: data.SQL})
}

func (qt *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	tr, _ := ctx.Value(traceKey{}).(*queryTrace)
	if tr == nil {
		return
	}
	elapsed := time.Since(tr.start)
	if data.Err != nil {
		qt.logger.WarnContext(ctx, "query failed", "sql", tr.sql, "error", data.Err, "duration_ms", elapsed.Milliseconds())
		return
	}
	qt.logger.DebugContext(ctx, "query",
		"sql", tr.sql,
		"command", data.CommandTag.String(),
		"rows_affected", data.CommandTag.RowsAffected(),
		"duration_ms", elapsed.Milliseconds(),
	)
}
