package tools

import (
	"fmt"
	"strings"
)

// ErrUnknownTool is returned for any id not in the registry.
type ErrUnknownTool struct {
	ID string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ID)
}

// InvalidInputError lists required input fields that were missing.
type InvalidInputError struct {
	ID      string
	Missing []string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("tool %q: missing required input: %s", e.ID, strings.Join(e.Missing, ", "))
}

// PermissionError lists permissions the caller has not granted.
type PermissionError struct {
	ID      string
	Missing []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("tool %q: missing permission: %s", e.ID, strings.Join(e.Missing, ", "))
}

// NotServerToolError is returned when a client-owned tool is sent to
// the server executor.
type NotServerToolError struct {
	ID string
}

func (e *NotServerToolError) Error() string {
	return fmt.Sprintf("tool %q is executed by the client", e.ID)
}
