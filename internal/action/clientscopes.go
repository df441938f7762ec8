package action

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeSetClientScopes makes the realm's non-built-in client scopes match a file.
const TypeSetClientScopes = "set-client-scopes"

func clientScopeDefaults() sdk.Record {
	return sdk.Record{
		"protocol": "openid-connect",
		"attributes": map[string]any{
			"include.in.token.scope":    "true",
			"display.on.consent.screen": "true",
		},
	}
}

type setClientScopes struct {
	realmScoped
	desired map[string]sdk.Record
}

func newSetClientScopes(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	desired, err := loadKeyed(loader, name, desc.String("file"), "name")
	if err != nil {
		return nil, err
	}
	for n := range desired {
		if keycloak.IsBuiltinClientScope(n) {
			delete(desired, n)
		}
	}
	return &setClientScopes{realmScoped: base, desired: desired}, nil
}

func (a *setClientScopes) Execute(ctx context.Context, remote sdk.Remote) error {
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Logger()

	all, err := keycloak.GetClientScopes(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	current := make(map[string]sdk.Record)
	for _, s := range all {
		if n := s.String("name"); n != "" && !keycloak.IsBuiltinClientScope(n) {
			current[n] = s
		}
	}

	diff := Diff(keysOf(a.desired), keysOf(current))

	for _, n := range diff.ToRemove {
		log.Info().Str("scope", n).Msg("removing client scope")
		if err := a.remove(ctx, remote, current[n]); err != nil {
			return err
		}
	}
	for _, n := range diff.ToCreate {
		log.Info().Str("scope", n).Msg("creating client scope")
		if err := keycloak.CreateClientScope(ctx, remote, a.realm, withDefaults(clientScopeDefaults(), a.desired[n])); err != nil {
			return err
		}
	}
	for _, n := range diff.ToUpdate {
		log.Info().Str("scope", n).Msg("updating client scope")
		if err := keycloak.UpdateClientScope(ctx, remote, a.realm, current[n].String("id"), a.desired[n]); err != nil {
			return err
		}
	}
	return nil
}

// remove detaches the scope from every client and drops its realm role
// mappings before deleting it.
func (a *setClientScopes) remove(ctx context.Context, remote sdk.Remote, scope sdk.Record) error {
	name, id := scope.String("name"), scope.String("id")

	clients, err := keycloak.GetClients(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].String("clientId") < clients[j].String("clientId")
	})
	for _, c := range clients {
		if contains(c.Strings("defaultClientScopes"), name) {
			if err := keycloak.DeleteDefaultClientScope(ctx, remote, a.realm, c.String("id"), id); err != nil {
				return fmt.Errorf("detaching scope %s from client %s: %w", name, c.String("clientId"), err)
			}
		}
		if contains(c.Strings("optionalClientScopes"), name) {
			if err := keycloak.DeleteOptionalClientScope(ctx, remote, a.realm, c.String("id"), id); err != nil {
				return fmt.Errorf("detaching scope %s from client %s: %w", name, c.String("clientId"), err)
			}
		}
	}

	mapped, err := keycloak.GetRealmScopeMapping(ctx, remote, a.realm, id)
	if err != nil {
		return err
	}
	if len(mapped) > 0 {
		if err := keycloak.DeleteRealmScopeMapping(ctx, remote, a.realm, id, mapped); err != nil {
			return err
		}
	}
	return keycloak.DeleteClientScope(ctx, remote, a.realm, id)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
