package db

import (
	"context"
	"errors"
	"time"

	"wacrm_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. Satisfied by *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Bound returns a context limited to timeout. A non-positive timeout leaves ctx untouched.
func Bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// InTx runs fn inside a transaction bounded by timeout. fn must issue its statements
// with the context it is given. The transaction commits when fn returns nil and
// rolls back otherwise.
func InTx(ctx context.Context, db Beginner, timeout time.Duration, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := Bound(ctx, timeout)
	defer cancel()

	return MapError(op, pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	}))
}

// MapError converts driver-level timeouts and connection failures into
// apperr.KindUnavailable. Domain errors and pgx.ErrNoRows pass through.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Unavailable("database timeout", err).WithOp(op)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperr.Unavailable("database unavailable", err).WithOp(op)
	}
	return err
}
