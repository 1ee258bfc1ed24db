package txn

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestIsNotSupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some random error"), false},
		{"command error code 20", mongo.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member"}, true},
		{"command error code 51", mongo.CommandError{Code: 51, Message: "Illegal operation"}, true},
		{"command error code 263", mongo.CommandError{Code: 263, Message: "Cannot run in a multi-document transaction"}, true},
		{"other command error code", mongo.CommandError{Code: 100, Message: "Some other error"}, false},
		{"wrapped command error", fmt.Errorf("insert user: %w", mongo.CommandError{Code: 20}), true},
		{"transaction and replica set keywords", errors.New("transaction failed because this is not a replica set member"), true},
		{"session and not supported keywords", errors.New("session operations are not supported on this server"), true},
		{"only one keyword", errors.New("transaction failed"), false},
		{"transaction and session", errors.New("cannot start transaction in current session state"), true},
		{"illegal operation keywords", errors.New("illegal operation during transaction"), true},
		{"uppercase keywords", errors.New("TRANSACTION FAILED on REPLICA SET"), true},
		{"mixed case keywords", errors.New("Transaction Session error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotSupported(tt.err); got != tt.want {
				t.Errorf("IsNotSupported(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsWriteConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("write conflict"), false},
		{"code 112", mongo.CommandError{Code: 112, Name: "WriteConflict"}, true},
		{"no such transaction", mongo.CommandError{Code: 251, Labels: []string{"TransientTransactionError"}}, false},
		{"wrapped", fmt.Errorf("insert account: %w", mongo.CommandError{Code: 112}), true},
		{"duplicate key", mongo.CommandError{Code: 11000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWriteConflict(tt.err); got != tt.want {
				t.Errorf("IsWriteConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_KeepsCause(t *testing.T) {
	r := &Runner{log: zap.NewNop()}
	cause := errors.New("identity already registered")

	// The message matches the unsupported heuristics; the cause must survive.
	err := r.classify(fmt.Errorf("%w: session not supported here", cause))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("original cause lost from chain: %v", err)
	}

	var ce mongo.CommandError
	err = r.classify(fmt.Errorf("start transaction: %w", mongo.CommandError{Code: 20}))
	if !errors.As(err, &ce) || ce.Code != 20 {
		t.Errorf("command error not reachable through %v", err)
	}

	plain := errors.New("boom")
	if got := r.classify(plain); got != plain {
		t.Errorf("classify changed an unrelated error: %v", got)
	}
}
