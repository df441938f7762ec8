package action

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeSetRealmScopeMapping sets the realm roles mapped to each client scope.
// Scopes absent from the file end up with no mapped roles.
const TypeSetRealmScopeMapping = "set-realm-scope-mapping"

type setRealmScopeMapping struct {
	realmScoped
	mapping map[string][]string // scope name -> role names
}

func newSetRealmScopeMapping(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	file := desc.String("file")
	entries, err := loadKeyed(loader, name, file, "clientScope")
	if err != nil {
		return nil, err
	}
	mapping := make(map[string][]string, len(entries))
	for scope, e := range entries {
		if raw, ok := e["roles"]; ok && raw != nil {
			if _, isList := raw.([]any); !isList {
				return nil, sdk.InvalidConfig(name, "roles of client scope %s in %s must be an array", scope, file)
			}
		}
		mapping[scope] = e.Strings("roles")
	}
	return &setRealmScopeMapping{realmScoped: base, mapping: mapping}, nil
}

func (a *setRealmScopeMapping) Execute(ctx context.Context, remote sdk.Remote) error {
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Logger()

	all, err := keycloak.GetClientScopes(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	existing := indexBy(all, "name")
	scopes := make(map[string]sdk.Record)
	for n, s := range existing {
		if !keycloak.IsBuiltinClientScope(n) {
			scopes[n] = s
		}
	}
	roles, err := keycloak.GetRoles(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	rolesByName := indexBy(roles, "name")

	for _, scope := range slices.Sorted(maps.Keys(a.mapping)) {
		names := a.mapping[scope]
		if _, ok := existing[scope]; !ok {
			return &sdk.InvalidActionConfigurationError{
				Action: a.name,
				Field:  "clientScope",
				Reason: fmt.Sprintf("unknown client scope %q", scope),
			}
		}
		if _, ok := scopes[scope]; !ok {
			log.Debug().Str("scope", scope).Msg("ignoring mapping for built-in client scope")
			continue
		}
		for _, r := range names {
			if _, ok := rolesByName[r]; !ok {
				return &sdk.InvalidActionConfigurationError{
					Action: a.name,
					Field:  "roles",
					Reason: fmt.Sprintf("client scope %s references unknown role %q", scope, r),
				}
			}
		}
	}

	for _, scope := range keysOf(scopes) {
		id := scopes[scope].String("id")
		mapped, err := keycloak.GetRealmScopeMapping(ctx, remote, a.realm, id)
		if err != nil {
			return err
		}
		mappedByName := indexBy(mapped, "name")
		diff := Diff(a.mapping[scope], keysOf(mappedByName))
		if diff.Converged() {
			continue
		}

		if len(diff.ToRemove) > 0 {
			log.Info().Str("scope", scope).Strs("roles", diff.ToRemove).Msg("unmapping roles from client scope")
			if err := keycloak.DeleteRealmScopeMapping(ctx, remote, a.realm, id, pick(mappedByName, diff.ToRemove)); err != nil {
				return err
			}
		}
		if len(diff.ToCreate) > 0 {
			log.Info().Str("scope", scope).Strs("roles", diff.ToCreate).Msg("mapping roles to client scope")
			if err := keycloak.AddRealmScopeMapping(ctx, remote, a.realm, id, pick(rolesByName, diff.ToCreate)); err != nil {
				return err
			}
		}
	}
	return nil
}
