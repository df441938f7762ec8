package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVaultCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "correct horse")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	secret := []byte("client-secret-for-web-app")
	if err := v.Put("web-app/secret", secret); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2, err := Open(path, "correct horse")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v2.Close()

	got, err := v2.Get("web-app/secret")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != string(secret) {
		t.Fatalf("got %q, want %q", got, secret)
	}
}

func TestVaultWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "right")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v.Close()

	// No entries: the check value must still reject the passphrase.
	_, err = Open(path, "wrong")
	if !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("expected ErrBadPassphrase, got %v", err)
	}
}

func TestVaultCreateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "pass")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v.Close()

	if _, err := Create(path, "pass"); err == nil {
		t.Fatal("expected error creating over an existing vault")
	}
}

func TestVaultMemoryOnly(t *testing.T) {
	v, err := CreateMemoryOnly("testpass")
	if err != nil {
		t.Fatalf("CreateMemoryOnly: %v", err)
	}
	defer v.Close()

	if err := v.Put("key1", []byte("value1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := v.Get("key1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value1" {
		t.Fatalf("got %q, want %q", got, "value1")
	}
	if v.Path() != "" {
		t.Fatal("memory-only vault should have empty path")
	}
}

func TestVaultDeleteAndKeys(t *testing.T) {
	v, err := CreateMemoryOnly("testpass")
	if err != nil {
		t.Fatalf("CreateMemoryOnly: %v", err)
	}
	defer v.Close()

	for _, k := range []string{"gamma", "alpha", "beta"} {
		if err := v.Put(k, []byte(k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	keys := v.Keys()
	want := []string{"alpha", "beta", "gamma"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}

	if err := v.Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v.Has("alpha") {
		t.Fatal("alpha should be deleted")
	}
	if _, err := v.Get("alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := v.Delete("alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestVaultRejectsReservedKey(t *testing.T) {
	v, err := CreateMemoryOnly("testpass")
	if err != nil {
		t.Fatalf("CreateMemoryOnly: %v", err)
	}
	defer v.Close()

	if err := v.Put("", []byte("x")); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := v.Put(checkKey, []byte("x")); err == nil {
		t.Fatal("expected error for reserved key")
	}
}

func TestVaultFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	v, err := Create(path, "testpassphrase123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v.Put("key", []byte("val"))
	v.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected permissions 0600, got %o", perm)
	}
}
