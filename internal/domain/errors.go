package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidDefinition is matched by every DefinitionError.
	ErrInvalidDefinition = errors.New("invalid scheduler event definition")

	// ErrUnhandled is returned when no job accepts an event type.
	ErrUnhandled = errors.New("no job registered for event type")
)

// DefinitionError reports a malformed definition. The offending event is
// skipped; loading continues with the rest.
type DefinitionError struct {
	EventID uuid.UUID
	Field   string
	Reason  string
}

func (e *DefinitionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("event %s: %s", e.EventID, e.Reason)
	}
	return fmt.Sprintf("event %s: %s: %s", e.EventID, e.Field, e.Reason)
}

func (e *DefinitionError) Is(target error) bool { return target == ErrInvalidDefinition }

func defErr(id uuid.UUID, field, format string, args ...any) error {
	return &DefinitionError{EventID: id, Field: field, Reason: fmt.Sprintf(format, args...)}
}
