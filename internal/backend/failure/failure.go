package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code classifies a failure so callers can decide between fixing input,
// retrying, or escalating.
type Code string

const (
	CodeValidation         Code = "validation"
	CodeOwnership          Code = "ownership"
	CodeNotFound           Code = "not_found"
	CodeBusy               Code = "busy"
	CodeRetryable          Code = "retryable"
	CodeIDDesync           Code = "id_desync"
	CodeConsistency        Code = "consistency"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Retryable reports whether a caller may repeat the operation unchanged.
func (c Code) Retryable() bool {
	return c == CodeBusy || c == CodeRetryable
}

// Fatal reports whether the failure indicates an internal consistency problem
// rather than bad input or contention.
func (c Code) Fatal() bool {
	switch c {
	case CodeConsistency, CodeInvariantViolation, CodeIDDesync, CodeInternal:
		return true
	}
	return false
}

// IDProblem names why a single asset ID was rejected.
type IDProblem string

const (
	ProblemNotFound    IDProblem = "not_found"
	ProblemWrongOwner  IDProblem = "wrong_owner"
	ProblemWrongKind   IDProblem = "wrong_kind"
	ProblemDuplicate   IDProblem = "duplicate"
	ProblemNotPositive IDProblem = "not_positive"
)

// IDIssue describes one rejected asset ID.
type IDIssue struct {
	ID      int64     `json:"id"`
	Problem IDProblem `json:"problem"`
	Detail  string    `json:"detail,omitempty"`
}

// Violation describes one failed ordering invariant.
type Violation struct {
	Invariant int              `json:"invariant"`
	Rule      string           `json:"rule"`
	Detail    string           `json:"detail"`
	Values    map[string]int64 `json:"values,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("invariant %d (%s): %s", v.Invariant, v.Rule, v.Detail)
}

// Error is the structured failure returned by every engine operation.
type Error struct {
	Code       Code
	Op         string
	Message    string
	Cause      error
	IDs        []IDIssue
	Violations []Violation
	Expected   int64
	Actual     int64
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	}
	fmt.Fprintf(&b, " (%s)", e.Code)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with the given code.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message)}
}

// Wrap annotates err with a code. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: err.Error(), Cause: err}
}

// RowCount reports a statement that touched an unexpected number of rows.
func RowCount(op string, expected, actual int64, message string) *Error {
	return &Error{
		Code:     CodeConsistency,
		Op:       op,
		Message:  fmt.Sprintf("%s: expected %d row(s), got %d", message, expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// Invariant reports a failed invariant check.
func Invariant(op string, violations []Violation) *Error {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return &Error{
		Code:       CodeInvariantViolation,
		Op:         op,
		Message:    strings.Join(parts, "; "),
		Violations: violations,
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or "" when err is not classified.
func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// IsCode checks whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Classifier recognizes store-specific errors. The database package registers
// one so that this package stays free of driver imports.
type Classifier func(err error) (Code, bool)

var classifiers []Classifier

// RegisterClassifier adds a classifier consulted by Map.
func RegisterClassifier(c Classifier) {
	classifiers = append(classifiers, c)
}

// Map converts an arbitrary error into an *Error, keeping already classified
// errors unchanged.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeRetryable, op, err)
	}
	for _, c := range classifiers {
		if code, ok := c(err); ok {
			return Wrap(code, op, err)
		}
	}
	return Wrap(CodeInternal, op, err)
}
