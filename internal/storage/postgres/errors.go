package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"feedwatch/internal/domain"
)

// Errors in these SQLSTATE classes fail the same way on every replay:
// class 42 is a mismatch between the queries and the deployed schema, class 22
// is a value the column rejects (bad encoding, too long for the column).
var fatalClasses = map[pq.ErrorClass]struct{}{
	"22": {},
	"42": {},
}

// classifyError marks errors that replaying a pass cannot fix as domain.ErrFatal.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if _, ok := fatalClasses[pqErr.Code.Class()]; ok {
			return fmt.Errorf("%w: %w", domain.ErrFatal, err)
		}
	}
	return err
}
