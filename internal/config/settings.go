package config

import (
	"fmt"
	"sort"
	"time"
)

// Settings holds everything that can be configured.
type Settings struct {
	// CodeActionsOnSave maps a code action kind to whether it runs before save.
	CodeActionsOnSave map[string]bool `toml:"code_actions_on_save" yaml:"code_actions_on_save"`

	ShowCodeActionsBulb bool `toml:"show_code_actions_bulb" yaml:"show_code_actions_bulb"`
	BulbDelayMS         int  `toml:"bulb_delay_ms" yaml:"bulb_delay_ms"`
	RequestTimeoutMS    int  `toml:"request_timeout_ms" yaml:"request_timeout_ms"`

	// MinDiagnosticSeverity drops less severe diagnostics: "error",
	// "warning", "information" or "hint". Empty keeps all.
	MinDiagnosticSeverity string `toml:"min_diagnostic_severity" yaml:"min_diagnostic_severity"`

	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogFile  string `toml:"log_file" yaml:"log_file"`

	// Servers are language servers keyed by configuration name.
	Servers map[string]ServerSettings `toml:"servers" yaml:"servers"`

	// Plugins are Lua files registering additional servers.
	Plugins []string `toml:"plugins" yaml:"plugins"`
}

// ServerSettings describes how to launch one language server.
type ServerSettings struct {
	Command      string            `toml:"command" yaml:"command"`
	Args         []string          `toml:"args" yaml:"args"`
	Env          map[string]string `toml:"env" yaml:"env"`
	Languages    []string          `toml:"languages" yaml:"languages"`
	FilePatterns []string          `toml:"file_patterns" yaml:"file_patterns"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	return &Settings{
		CodeActionsOnSave:   map[string]bool{},
		ShowCodeActionsBulb: true,
		BulbDelayMS:         800,
		RequestTimeoutMS:    10000,
		LogLevel:            "info",
		Servers:             map[string]ServerSettings{},
	}
}

// BulbDelay returns the lightbulb delay as a duration.
func (s *Settings) BulbDelay() time.Duration {
	return time.Duration(s.BulbDelayMS) * time.Millisecond
}

// RequestTimeout returns the blocking request timeout as a duration.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// ServerNames returns the configured server names, sorted.
func (s *Settings) ServerNames() []string {
	names := make([]string, 0, len(s.Servers))
	for name := range s.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks values that cannot be used as given.
func (s *Settings) Validate() error {
	if s.BulbDelayMS < 0 {
		return fmt.Errorf("bulb_delay_ms %d: %w", s.BulbDelayMS, ErrValidationFailed)
	}
	if s.RequestTimeoutMS <= 0 {
		return fmt.Errorf("request_timeout_ms %d: %w", s.RequestTimeoutMS, ErrValidationFailed)
	}
	switch s.MinDiagnosticSeverity {
	case "", "error", "warning", "information", "hint":
	default:
		return fmt.Errorf("min_diagnostic_severity %q: %w", s.MinDiagnosticSeverity, ErrValidationFailed)
	}
	for _, name := range s.ServerNames() {
		if s.Servers[name].Command == "" {
			return fmt.Errorf("server %s has no command: %w", name, ErrValidationFailed)
		}
	}
	return nil
}
