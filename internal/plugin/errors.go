package plugin

import "errors"

// Plugin registry errors.
var (
	// ErrDuplicate is returned when a plugin name is registered twice.
	ErrDuplicate = errors.New("plugin already registered")

	// ErrInvalidPlugin is returned when descriptor validation fails.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrPluginNotFound is returned when no plugin has the name.
	ErrPluginNotFound = errors.New("plugin not found")
)
