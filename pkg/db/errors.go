package db

import (
	"strings"

	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
)

// IsUniqueViolation reports whether the provided error is a unique constraint
// violation. Postgres errors are detected via their SQLSTATE; the string checks
// cover gorm-wrapped messages and the sqlite driver used in tests. When
// constraintName is provided, the helper additionally looks for the constraint
// text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pkgerrors.IsUniqueViolation(err) {
		return true
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
