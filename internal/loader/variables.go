package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// DefaultsFile is read before the environment-specific variable file.
const DefaultsFile = "defaults.var"

// Variables is the merged variable namespace for one run.
type Variables map[string]string

// Lookup returns the value of a variable.
func (v Variables) Lookup(key string) (string, bool) {
	val, ok := v[key]
	return val, ok
}

// Keys returns the variable names in sorted order.
func (v Variables) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadVariables reads defaults.var then <env>.var from varDir. Later files win
// on key collision; missing files are treated as empty.
func LoadVariables(varDir, env string) (Variables, error) {
	vars := Variables{}
	for _, name := range []string{DefaultsFile, env + ".var"} {
		fileVars, err := LoadVariablesFile(filepath.Join(varDir, name))
		if err != nil {
			return nil, err
		}
		for k, val := range fileVars {
			vars[k] = val
		}
	}
	return vars, nil
}

// LoadVariablesFile parses one file of `key = value` lines. Anything after a
// '#' is a comment. Blank lines are skipped.
func LoadVariablesFile(path string) (Variables, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Variables{}, nil
		}
		return nil, &sdk.ConfigurationError{Path: path, Reason: "reading variables file", Err: err}
	}
	defer f.Close()

	vars := Variables{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := raw
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, &sdk.ConfigurationError{
				Path:   path,
				Reason: fmt.Sprintf("invalid variable assignment on line %d", lineNo),
				Line:   raw,
			}
		}
		vars[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, &sdk.ConfigurationError{Path: path, Reason: "reading variables file", Err: err}
	}
	return vars, nil
}
