package logger

import "context"

type contextKey string

const (
	loggerKey contextKey = "snapstream.logger"
	txnIDKey  contextKey = "snapstream.txn_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithTxnID tags the context with a snapshot transaction id.
func WithTxnID(ctx context.Context, txnID int64) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// TxnIDFromContext extracts the transaction id from context.
func TxnIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(txnIDKey).(int64)
	return id, ok
}

// L returns the context logger enriched with the transaction id, if any.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id, ok := TxnIDFromContext(ctx); ok {
		l = l.With("txn_id", id)
	}
	return l
}
