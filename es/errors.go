package es

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateEvent matches a StorageError caused by a uniqueness conflict
	// on (aggregate_id, aggregate_version) or event_id.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrRepositoryClosed indicates the repository handle is no longer usable.
	ErrRepositoryClosed = errors.New("repository closed")
)

// ValidationIssue describes one reason an event could not be encoded or decoded.
type ValidationIssue struct {
	ActualValue any
	Field       string
	Rule        string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s violates %s (got %v)", i.Field, i.Rule, i.ActualValue)
}

// InvalidEventError is returned by a Serializer when an event cannot be
// represented, or when a stored payload cannot be decoded into a known shape.
// During multi-row reads it is converted into a skipped row.
type InvalidEventError struct {
	EventType string
	Issues    []ValidationIssue
}

func (e *InvalidEventError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid event %q", e.EventType)
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("invalid event %q: %s", e.EventType, strings.Join(parts, "; "))
}

// StorageFailureType discriminates why an append was rejected.
type StorageFailureType int

const (
	// StorageFailureIO covers driver, disk and connection failures.
	StorageFailureIO StorageFailureType = iota
	// StorageFailureDuplicate is a uniqueness conflict.
	StorageFailureDuplicate
)

func (t StorageFailureType) String() string {
	switch t {
	case StorageFailureDuplicate:
		return "DUPLICATE"
	case StorageFailureIO:
		return "IO_ERROR"
	default:
		return fmt.Sprintf("StorageFailureType(%d)", int(t))
	}
}

// StorageError is returned by Store when the durability layer rejects an append.
// The log is unchanged when a StorageError is returned.
type StorageError struct {
	Err         error
	AggregateID string
	EventType   string
	FailureType StorageFailureType
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage error (%s) appending %q to aggregate %q", e.FailureType, e.EventType, e.AggregateID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports duplicate failures as ErrDuplicateEvent.
func (e *StorageError) Is(target error) bool {
	return target == ErrDuplicateEvent && e.FailureType == StorageFailureDuplicate
}

// PersistenceError is returned by read operations when the repository itself
// is unusable. Reads are never partially satisfied when it is returned.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
