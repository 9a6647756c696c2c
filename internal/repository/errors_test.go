package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestMapPgError(t *testing.T) {
	other := errors.New("connection reset")
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, true},
		{"wrapped serialization failure", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), true},
		{"check violation", &pgconn.PgError{Code: "23514", Message: "violates check constraint"}, false},
		{"not a pg error", other, false},
		{"lost version check", fmt.Errorf("offering o1: %w", ErrTransactionConflict), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, ErrTransactionConflict))
			if !tt.conflict {
				assert.Equal(t, tt.err, got)
			}
		})
	}
}

func TestMapMongoError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"transient transaction error", mongo.CommandError{
			Code: 112, Name: "WriteConflict", Labels: []string{"TransientTransactionError"},
		}, true},
		{"wrapped transient error", fmt.Errorf("commit: %w", mongo.CommandError{
			Code: 251, Labels: []string{"TransientTransactionError"},
		}), true},
		{"command error without label", mongo.CommandError{Code: 2, Name: "BadValue"}, false},
		{"lost version check", fmt.Errorf("booking b1: %w", ErrTransactionConflict), true},
		{"plain error", errors.New("server selection timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapMongoError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, ErrTransactionConflict))
		})
	}
}
