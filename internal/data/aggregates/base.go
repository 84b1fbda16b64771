package aggregates

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

const defaultOp = "aggregate.write"

var tracer = otel.Tracer("github.com/yungbote/quizgen-backend/internal/data/aggregates")

// BaseDeps is embedded by services that own a write boundary. Runner
// defaults to a GormTxRunner on DB.
type BaseDeps struct {
	DB     *gorm.DB
	Runner TxRunner
	Hooks  Hooks
}

// ExecuteWrite runs fn in a new transaction and returns its error mapped
// through MapError.
func ExecuteWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	runner := deps.Runner
	if runner == nil {
		runner = NewGormTxRunner(deps.DB)
	}
	return deps.observe(ctx, op, func(ctx context.Context) error {
		return runner.InTx(ctx, fn)
	})
}

// ExecuteWriteIn joins dbc.Tx as a savepoint when the caller already holds
// a transaction, and behaves like ExecuteWrite otherwise.
func ExecuteWriteIn(dbc dbctx.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	if dbc.Tx == nil {
		return ExecuteWrite(dbc.Ctx, deps, op, fn)
	}
	return deps.observe(dbc.Ctx, op, func(ctx context.Context) error {
		return Within(dbctx.Context{Ctx: ctx, Tx: dbc.Tx}, deps.DB, fn)
	})
}

func (d BaseDeps) observe(ctx context.Context, op string, run func(context.Context) error) error {
	if op == "" {
		op = defaultOp
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	err := MapError(op, run(ctx))
	out := Outcome{Op: op, Code: domainagg.CodeOf(err), Duration: time.Since(start)}

	if err != nil {
		span.SetAttributes(attribute.String("aggregate.code", string(out.Code)))
		span.SetStatus(codes.Error, err.Error())
	}
	hooks := d.Hooks
	if hooks == nil {
		hooks = discardHooks
	}
	hooks.OnWrite(out)
	return err
}
