package secret

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func upperDecrypter() Decrypter {
	return DecrypterFunc(func(_ context.Context, c string) (string, error) {
		return strings.ToUpper(c), nil
	})
}

func TestHookApply(t *testing.T) {
	h := NewHook("enc:", upperDecrypter())

	in := map[string]any{
		"clientId": "web-app",
		"secret":   "enc:abc",
		"port":     float64(8080),
		"enabled":  true,
		"nothing":  nil,
		"nested": []any{
			"plain",
			"enc:xyz",
			map[string]any{"deep": "enc:q"},
		},
	}

	out, err := h.Apply(context.Background(), in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := map[string]any{
		"clientId": "web-app",
		"secret":   "ABC",
		"port":     float64(8080),
		"enabled":  true,
		"nothing":  nil,
		"nested": []any{
			"plain",
			"XYZ",
			map[string]any{"deep": "Q"},
		},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("Apply() = %#v, want %#v", out, want)
	}

	// The input tree is left as it was.
	if in["secret"] != "enc:abc" {
		t.Fatalf("input mutated: %v", in["secret"])
	}
}

func TestHookDisabled(t *testing.T) {
	in := map[string]any{"secret": "enc:abc"}

	tests := []struct {
		name string
		hook *Hook
	}{
		{"nil hook", nil},
		{"empty prefix", NewHook("", upperDecrypter())},
		{"nil decrypter", NewHook("enc:", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.hook.Enabled() {
				t.Fatal("hook should be disabled")
			}
			out, err := tt.hook.Apply(context.Background(), in)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !reflect.DeepEqual(out, in) {
				t.Fatalf("Apply() = %v, want input unchanged", out)
			}
		})
	}
}

func TestHookErrorNamesPath(t *testing.T) {
	boom := errors.New("access denied")
	h := NewHook("enc:", DecrypterFunc(func(context.Context, string) (string, error) {
		return "", boom
	}))

	_, err := h.Apply(context.Background(), []any{map[string]any{"secret": "enc:x"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(err.Error(), "/0/secret") {
		t.Fatalf("error should name the value path: %v", err)
	}
}
