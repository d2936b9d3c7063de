package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/egannguyen/stockledger/internal/repository"
)

// SQLSTATE codes that mean the transaction lost a lock race.
var lockConflictCodes = map[string]bool{
	"40P01": true, // deadlock_detected
	"40001": true, // serialization_failure
	"55P03": true, // lock_not_available (lock_timeout)
}

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify tags driver lock errors with repository.ErrLockConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if lockConflictCodes[sqlState(err)] {
		return fmt.Errorf("%w: %w", repository.ErrLockConflict, err)
	}
	return err
}
