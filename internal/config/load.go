package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variables that override settings.
const EnvPrefix = "CODEACTIONS_"

// Loader reads settings files.
type Loader struct {
	fs     FileSystem
	lookup func(string) (string, bool)
}

// NewLoader creates a loader reading from the OS file system and environment.
func NewLoader() *Loader {
	return &Loader{fs: OSFS{}, lookup: os.LookupEnv}
}

// NewLoaderWithFS creates a loader with a custom file system and
// environment lookup. A nil lookup ignores the environment.
func NewLoaderWithFS(fsys FileSystem, lookup func(string) (string, bool)) *Loader {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Loader{fs: fsys, lookup: lookup}
}

// Load reads settings from path using the OS file system.
func Load(path string) (*Settings, error) {
	return NewLoader().Load(path)
}

// Load reads settings from path. A missing file yields Defaults.
// Values absent from the file keep their defaults.
func (l *Loader) Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := l.fs.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading settings file %s: %w", path, err)
		default:
			if err := decode(path, data, s); err != nil {
				return nil, err
			}
		}
	}

	l.applyEnv(s)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// decode fills s from data according to the extension of path.
func decode(path string, data []byte, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, s); err != nil {
			perr := &ParseError{Path: path, Message: err.Error(), Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return perr
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, s); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	if s.CodeActionsOnSave == nil {
		s.CodeActionsOnSave = map[string]bool{}
	}
	if s.Servers == nil {
		s.Servers = map[string]ServerSettings{}
	}
	return nil
}

// applyEnv overrides log settings from the environment.
func (l *Loader) applyEnv(s *Settings) {
	if v, ok := l.lookup(EnvPrefix + "LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := l.lookup(EnvPrefix + "LOG_FILE"); ok {
		s.LogFile = v
	}
}
