package sqlh

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// Rollback is used to rollback a transaction without returning an error, e.g. when
	// there is nothing to write.
	Rollback = errors.New("Just rollback")
)

type txContextKey struct{}

// TxContext contains transaction context.
type TxContext struct {
	onCommitted []func()
	onFinalised []func()
}

// CurTxContext returns current TxContext in transaction.
func CurTxContext(ctx context.Context) *TxContext {
	ret, _ := ctx.Value(txContextKey{}).(*TxContext)
	return ret
}

// MustCurTxContext is the `must` version of CurTxContext.
func MustCurTxContext(ctx context.Context) *TxContext {
	ret := CurTxContext(ctx)
	if ret == nil {
		panic(errors.New("MustCurTxContext must be called within WithTx"))
	}
	return ret
}

// OnCommitted adds a function called only after the transaction has been committed.
// Functions are called in reverse order of adding, like defer.
func (txCtx *TxContext) OnCommitted(fn func()) {
	txCtx.onCommitted = append(txCtx.onCommitted, fn)
}

// OnFinalised adds a function called after the transaction ended, committed or not.
// Functions are called in reverse order of adding, like defer.
func (txCtx *TxContext) OnFinalised(fn func()) {
	txCtx.onFinalised = append(txCtx.onFinalised, fn)
}

// WithTx starts a transaction and run fn. If no error is returned, the transaction is committed.
// Otherwise it is rollbacked and the error is returned to the caller (except returning Rollback,
// which will rollback the transaction but not return error).
//
// A batch written in fn is thus either fully applied or not at all.
func WithTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) (err error) {
	txCtx := &TxContext{}
	ctx = context.WithValue(ctx, txContextKey{}, txCtx)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
		for i := len(txCtx.onFinalised) - 1; i >= 0; i-- {
			txCtx.onFinalised[i]()
		}
		if err == Rollback {
			err = nil
		}
	}()

	err = fn(ctx, tx)
	if err != nil {
		return
	}

	err = tx.Commit()
	if err != nil {
		return
	}
	committed = true

	for i := len(txCtx.onCommitted) - 1; i >= 0; i-- {
		txCtx.onCommitted[i]()
	}
	return
}
