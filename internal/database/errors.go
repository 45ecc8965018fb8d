package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

// Constraint kinds reported in ConstraintError.Type.
const (
	ConstraintForeignKey = "foreign_key"
	ConstraintUnique     = "unique"
	ConstraintNotNull    = "not_null"
	ConstraintCheck      = "check"
)

// ConstraintError is a SQLite constraint failure. It unwraps to one of the
// Err* sentinels above.
type ConstraintError struct {
	Type   string
	Table  string
	Column string
	Cause  error
	Err    error // driver error
}

func (e *ConstraintError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s on %s.%s", e.Cause, e.Table, e.Column)
	}
	return e.Cause.Error()
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var constraintPatterns = []struct {
	re    *regexp.Regexp
	kind  string
	cause error
}{
	{regexp.MustCompile(`FOREIGN KEY constraint failed`), ConstraintForeignKey, ErrForeignKey},
	{regexp.MustCompile(`UNIQUE constraint failed: ([^\s,]+)`), ConstraintUnique, ErrUniqueViolation},
	{regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`), ConstraintNotNull, ErrNotNull},
	{regexp.MustCompile(`CHECK constraint failed`), ConstraintCheck, ErrCheckConstraint},
}

// ClassifyError converts SQLite constraint failures to *ConstraintError.
// Other errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	for _, p := range constraintPatterns {
		m := p.re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}

		ce := &ConstraintError{Type: p.kind, Cause: p.cause, Err: err}
		if len(m) == 2 {
			if table, column, ok := strings.Cut(m[1], "."); ok {
				ce.Table = table
				ce.Column = column
			}
		}
		return ce
	}

	return err
}

// AsConstraintError returns the *ConstraintError in err's chain, or nil.
func AsConstraintError(err error) *ConstraintError {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

func IsForeignKeyError(err error) bool {
	ce := AsConstraintError(err)
	return ce != nil && ce.Type == ConstraintForeignKey
}

func IsUniqueError(err error) bool {
	ce := AsConstraintError(err)
	return ce != nil && ce.Type == ConstraintUnique
}
