package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func pgErr(code string) error {
	return fmt.Errorf("query: %w", &pgconn.PgError{Code: code})
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization", pgErr("40001"), ErrorClassSerialization},
		{"deadlock", pgErr("40P01"), ErrorClassDeadlock},
		{"lock timeout", pgErr("55P03"), ErrorClassTransient},
		{"unique violation", pgErr("23505"), ErrorClassPermanent},
		{"fk violation", pgErr("23503"), ErrorClassPermanent},
		{"no rows", pgx.ErrNoRows, ErrorClassPermanent},
		{"plain error", errors.New("boom"), ErrorClassPermanent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ClassifyError(c.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(pgErr("40001")))
	assert.True(t, IsRetryable(pgErr("40P01")))
	assert.True(t, IsRetryable(pgErr("55P03")))
	assert.False(t, IsRetryable(pgErr("23505")))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}
