// Package secret implements the post-parse decryption hook for configuration
// values and the backends that resolve encrypted values to plaintext.
package secret

import (
	"context"
	"fmt"
	"strings"
)

// Decrypter turns the portion of a value following the encryption prefix
// into plaintext.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// DecrypterFunc adapts a function to the Decrypter interface.
type DecrypterFunc func(ctx context.Context, ciphertext string) (string, error)

// Decrypt calls f.
func (f DecrypterFunc) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return f(ctx, ciphertext)
}

// Hook visits every string leaf of a parsed JSON tree and decrypts the ones
// carrying Prefix. A nil Hook or an empty Prefix leaves the tree untouched.
type Hook struct {
	Prefix    string
	Decrypter Decrypter
}

// NewHook returns a hook for prefix backed by d.
func NewHook(prefix string, d Decrypter) *Hook {
	return &Hook{Prefix: prefix, Decrypter: d}
}

// Enabled reports whether the hook will decrypt anything.
func (h *Hook) Enabled() bool {
	return h != nil && h.Prefix != "" && h.Decrypter != nil
}

// Apply returns a copy of v with every prefixed string replaced by its plaintext.
func (h *Hook) Apply(ctx context.Context, v any) (any, error) {
	if !h.Enabled() {
		return v, nil
	}
	return h.walk(ctx, v, "")
}

func (h *Hook) walk(ctx context.Context, v any, path string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			dec, err := h.walk(ctx, val, path+"/"+k)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			dec, err := h.walk(ctx, val, fmt.Sprintf("%s/%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	case string:
		if !strings.HasPrefix(t, h.Prefix) {
			return t, nil
		}
		plain, err := h.Decrypter.Decrypt(ctx, strings.TrimPrefix(t, h.Prefix))
		if err != nil {
			if path == "" {
				path = "/"
			}
			return nil, fmt.Errorf("value at %s: %w", path, err)
		}
		return plain, nil
	default:
		return v, nil
	}
}
