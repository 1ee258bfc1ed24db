// Package txn runs a group of MongoDB writes as one all-or-nothing unit.
//
// A unit is an explicit session + transaction. The context handed to the
// callback carries the session; every store method that receives that
// context participates in the transaction. The unit ends in exactly one of
// two ways: CommitTransaction after the callback returns nil, or
// AbortTransaction on any error, panic, or cancellation. EndSession runs on
// every exit path.
//
// Nothing here retries. The driver's Session.WithTransaction helper retries
// on transient errors, which would re-run provisioning silently, so it is
// not used.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// ErrUnsupported is returned when the deployment cannot run multi-document
// transactions (standalone mongod). Units never fall back to
// non-transactional writes.
var ErrUnsupported = errors.New("txn: multi-document transactions are not supported by this MongoDB deployment (replica set required)")

// abortTimeout bounds the abort call, which must still run after the
// caller's context has been canceled.
const abortTimeout = 5 * time.Second

// Runner starts units of work against one client.
type Runner struct {
	client *mongo.Client
	log    *zap.Logger
	opts   *options.TransactionOptions
}

// New returns a Runner using snapshot reads and majority writes.
func New(client *mongo.Client, logger *zap.Logger) *Runner {
	return &Runner{
		client: client,
		log:    logger,
		opts: options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
	}
}

// Run executes fn inside a single transaction and commits if fn returns nil.
// fn must use the context it is given for every read and write that belongs
// to the unit. The original error from fn is returned unchanged (unless it
// signals missing transaction support, in which case it is wrapped in
// ErrUnsupported).
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	sess, err := r.client.StartSession()
	if err != nil {
		return r.classify(fmt.Errorf("start session: %w", err))
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	if err := sess.StartTransaction(r.opts); err != nil {
		return r.classify(fmt.Errorf("start transaction: %w", err))
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
		defer cancel()
		if aerr := sess.AbortTransaction(abortCtx); aerr != nil {
			r.log.Warn("abort transaction failed", zap.Error(aerr))
		}
	}()

	sc := mongo.NewSessionContext(ctx, sess)
	if err := fn(sc); err != nil {
		return r.classify(err)
	}

	// Commit is the terminal action; a failed commit leaves nothing to abort.
	finished = true
	if err := sess.CommitTransaction(sc); err != nil {
		return r.classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (r *Runner) classify(err error) error {
	if IsNotSupported(err) {
		r.log.Error("mongo deployment does not support transactions", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return err
}

// IsNotSupported reports whether err means the server cannot run
// transactions or sessions (e.g. a standalone server).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, 51, 263: // IllegalOperation, IllegalOperation (legacy), OperationNotSupportedInTransaction
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	hasTxn := strings.Contains(msg, "transaction")
	hasSession := strings.Contains(msg, "session")
	switch {
	case hasTxn && strings.Contains(msg, "replica set"):
		return true
	case hasTxn && hasSession:
		return true
	case hasSession && strings.Contains(msg, "not supported"):
		return true
	case strings.Contains(msg, "illegal operation"):
		return true
	}
	return false
}

// IsWriteConflict reports whether err is a transactional write conflict:
// another in-flight transaction touched the same document or unique key.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(112) // WriteConflict
	}
	return false
}
