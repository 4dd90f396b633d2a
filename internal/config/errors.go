package config

import (
	"errors"
	"fmt"
)

// PermissionError represents a permission-related config error
type PermissionError struct {
	Path string
	Op   string // "read" or "write"
	Fix  string // Suggested fix command
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied (cannot %s config): %s\n", e.Op, e.Path)
	msg += "💡 Fix: " + e.Fix
	return msg
}

// NotFoundError represents missing config file
type NotFoundError struct {
	Path string
	Hint string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("config file not found: %s\n\n💡 %s", e.Path, e.Hint)
}

// InvalidConfigError represents malformed config
type InvalidConfigError struct {
	Path    string
	Message string
	Hint    string
}

func (e *InvalidConfigError) Error() string {
	msg := fmt.Sprintf("invalid config: %s\n", e.Path)
	if e.Message != "" {
		msg += e.Message + "\n"
	}
	if e.Hint != "" {
		msg += "💡 " + e.Hint
	}
	return msg
}

// asNotFound reports whether err wraps a NotFoundError.
func asNotFound(err error, target **NotFoundError) bool {
	return errors.As(err, target)
}
