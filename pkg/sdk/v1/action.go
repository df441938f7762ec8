// Package sdk provides the action developer interface for kcconfig.
// Every action implements the Action interface and is made available to the
// engine through a Registration keyed by its descriptor "type".
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Descriptor is one entry of the top-level action list: {name, type, ...}.
// Type-specific fields are kept as decoded JSON values.
type Descriptor map[string]any

// Record is a string-keyed resource representation, either desired (loaded
// from a configuration file) or current (fetched from the admin API).
type Record map[string]any

// Name returns the descriptor's "name" field.
func (d Descriptor) Name() string { return d.String("name") }

// Type returns the descriptor's "type" field.
func (d Descriptor) Type() string { return d.String("type") }

// String is a helper to get a string field, returning "" when absent or not a string.
func (d Descriptor) String(field string) string {
	if v, ok := d[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool is a helper to get a bool field with false as default.
func (d Descriptor) Bool(field string) bool {
	if v, ok := d[field]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Require checks that every named field is present and non-empty.
// The returned error names the action and the first missing field.
func (d Descriptor) Require(actionName string, fields ...string) error {
	for _, f := range fields {
		v, ok := d[f]
		if !ok || v == nil {
			return MissingField(actionName, f)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return MissingField(actionName, f)
		}
	}
	return nil
}

// String returns a field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Strings returns a field as a string slice. Non-string members are skipped;
// an absent field yields nil.
func (r Record) Strings(field string) []string {
	raw, ok := r[field].([]any)
	if !ok {
		if ss, ok := r[field].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Response is a raw admin API response. Status codes are not interpreted here.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Remote issues authenticated admin API calls. Paths are relative to the
// server base URL (e.g. /admin/realms/demo). A nil body sends no payload.
type Remote interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string, body any) (*Response, error)
}

// ConfigLoader loads a configuration file relative to the deployment source
// directory, with variables substituted and secrets decrypted.
type ConfigLoader interface {
	LoadConfig(path string) (any, error)
}

// Action reconciles one kind of remote state. Actions load their desired
// state when constructed and are never mutated afterwards.
type Action interface {
	Name() string
	Execute(ctx context.Context, remote Remote) error
}

// Constructor builds an Action from its descriptor. It must validate required
// fields and eagerly load any referenced file.
type Constructor func(name string, desc Descriptor, loader ConfigLoader) (Action, error)

// Registration declares an action type to the registry.
type Registration struct {
	Type        string
	Description string

	// ValidForEnvironment gates participation in a deployment environment.
	// It is evaluated before construction; nil means every environment.
	ValidForEnvironment func(env string) bool

	New Constructor
}

// AllEnvironments is a ValidForEnvironment predicate accepting every environment.
func AllEnvironments(string) bool { return true }

// ValidFor reports whether the registration participates in env.
func (r Registration) ValidFor(env string) bool {
	if r.ValidForEnvironment == nil {
		return true
	}
	return r.ValidForEnvironment(env)
}

type actionKey struct{}

// WithActionName returns a context carrying the name of the executing action.
// Remotes use it to attribute calls in logs and the audit trail.
func WithActionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey{}, name)
}

// ActionName returns the action name stored by WithActionName, or "".
func ActionName(ctx context.Context) string {
	name, _ := ctx.Value(actionKey{}).(string)
	return name
}
