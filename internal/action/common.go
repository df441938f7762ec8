package action

import (
	"context"
	"fmt"
	"sort"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// realmScoped carries the fields shared by every action bound to one realm.
type realmScoped struct {
	name  string
	realm string
}

func (a realmScoped) Name() string { return a.name }

// requireRealm fails with a PreconditionError when the realm is absent.
func (a realmScoped) requireRealm(ctx context.Context, remote sdk.Remote) error {
	ok, err := keycloak.RealmExists(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	if !ok {
		return &sdk.PreconditionError{Action: a.name, Reason: fmt.Sprintf("realm %q does not exist", a.realm)}
	}
	return nil
}

// newRealmScoped validates realmName and the given extra required fields.
func newRealmScoped(name string, desc sdk.Descriptor, extra ...string) (realmScoped, error) {
	if err := desc.Require(name, append([]string{"realmName"}, extra...)...); err != nil {
		return realmScoped{}, err
	}
	realm := desc.String("realmName")
	if realm == "" {
		return realmScoped{}, &sdk.InvalidActionConfigurationError{Action: name, Field: "realmName", Reason: "must be a string"}
	}
	for _, f := range extra {
		if desc.String(f) == "" {
			return realmScoped{}, &sdk.InvalidActionConfigurationError{Action: name, Field: f, Reason: "must be a string"}
		}
	}
	return realmScoped{name: name, realm: realm}, nil
}

// loadObjects loads file and checks it is a JSON array of objects.
func loadObjects(loader sdk.ConfigLoader, action, file string) ([]sdk.Record, error) {
	raw, err := loader.LoadConfig(file)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, sdk.InvalidConfig(action, "%s must contain a JSON array", file)
	}
	out := make([]sdk.Record, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, sdk.InvalidConfig(action, "entry %d of %s is not an object", i, file)
		}
		out = append(out, sdk.Record(m))
	}
	return out, nil
}

// loadKeyed loads file and indexes its records by a required, unique key.
func loadKeyed(loader sdk.ConfigLoader, action, file, key string) (map[string]sdk.Record, error) {
	records, err := loadObjects(loader, action, file)
	if err != nil {
		return nil, err
	}
	out := make(map[string]sdk.Record, len(records))
	for i, rec := range records {
		k := rec.String(key)
		if k == "" {
			return nil, sdk.InvalidConfig(action, "entry %d of %s is missing %q", i, file, key)
		}
		if _, dup := out[k]; dup {
			return nil, sdk.InvalidConfig(action, "duplicate %s %q in %s", key, k, file)
		}
		out[k] = rec
	}
	return out, nil
}

// indexBy keys records by field. Records without the field are dropped.
func indexBy(records []sdk.Record, field string) map[string]sdk.Record {
	out := make(map[string]sdk.Record, len(records))
	for _, r := range records {
		if k := r.String(field); k != "" {
			out[k] = r
		}
	}
	return out
}

func keysOf(m map[string]sdk.Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// pick returns the records for names, in the order given.
func pick(byName map[string]sdk.Record, names []string) []sdk.Record {
	out := make([]sdk.Record, 0, len(names))
	for _, n := range names {
		if r, ok := byName[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

// withDefaults overlays desired on defaults. Desired fields always win; the
// merge is shallow.
func withDefaults(defaults, desired sdk.Record) sdk.Record {
	out := defaults.Clone()
	for k, v := range desired {
		out[k] = v
	}
	return out
}
