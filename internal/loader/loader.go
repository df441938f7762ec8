// Package loader reads deployment configuration files, substituting #{VAR}
// placeholders from the variable namespace before parsing them as JSON.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kcconfig/kcconfig/internal/secret"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// placeholderPattern matches #{IDENT}. The identifier may be empty so that
// "#{}" is reported instead of being left in the output.
var placeholderPattern = regexp.MustCompile(`#\{([^}]*)\}`)

// Loader loads JSON configuration files from the deployment source directory.
type Loader struct {
	srcDir    string
	varDir    string
	env       string
	vars      Variables
	lookupEnv func(string) (string, bool)
	hook      *secret.Hook
}

// Option configures a Loader.
type Option func(*Loader)

// WithLookupEnv replaces os.LookupEnv as the process environment source.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *Loader) { l.lookupEnv = fn }
}

// WithSecretHook sets the post-parse decryption hook.
func WithSecretHook(h *secret.Hook) Option {
	return func(l *Loader) { l.hook = h }
}

// New creates a loader and eagerly reads the variable namespace for env.
func New(srcDir, varDir, env string, opts ...Option) (*Loader, error) {
	l := &Loader{
		srcDir:    srcDir,
		varDir:    varDir,
		env:       env,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}

	vars, err := LoadVariables(varDir, env)
	if err != nil {
		return nil, err
	}
	l.vars = vars
	return l, nil
}

// Env returns the deployment environment name.
func (l *Loader) Env() string { return l.env }

// SourceDir returns the directory configuration paths are relative to.
func (l *Loader) SourceDir() string { return l.srcDir }

// Variables returns a copy of the file-based variable namespace.
func (l *Loader) Variables() Variables {
	out := make(Variables, len(l.vars))
	for k, v := range l.vars {
		out[k] = v
	}
	return out
}

// Resolve returns the value for a variable, preferring the process environment.
func (l *Loader) Resolve(name string) (string, bool) {
	if v, ok := l.lookupEnv(name); ok {
		return v, true
	}
	return l.vars.Lookup(name)
}

// LoadConfig reads path relative to the source directory, substitutes
// placeholders, parses the result as JSON and applies the secret hook.
func (l *Loader) LoadConfig(path string) (any, error) {
	fullPath := filepath.Join(l.srcDir, path)

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &sdk.ConfigurationError{Path: fullPath, Reason: "file not found"}
		}
		return nil, &sdk.ConfigurationError{Path: fullPath, Reason: "reading file", Err: err}
	}

	processed, err := l.Substitute(string(raw))
	if err != nil {
		var cfgErr *sdk.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = fullPath
		}
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal([]byte(processed), &parsed); err != nil {
		return nil, &sdk.ConfigurationError{Path: fullPath, Reason: "invalid JSON", Err: err}
	}

	decrypted, err := l.hook.Apply(context.Background(), parsed)
	if err != nil {
		return nil, &sdk.ConfigurationError{Path: fullPath, Reason: "decrypting secret value", Err: err}
	}
	return decrypted, nil
}

// Substitute replaces every #{IDENT} in raw. It runs on text, before parsing,
// so a value containing JSON structural characters is the caller's problem.
func (l *Loader) Substitute(raw string) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		if name == "" {
			firstErr = &sdk.ConfigurationError{Reason: "empty variable declaration", Line: match}
			return match
		}
		v, ok := l.Resolve(name)
		if !ok {
			firstErr = &sdk.ConfigurationError{Reason: "unknown variable " + name, Line: match}
			return match
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
