package action

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeSetClients makes the realm's clients match a file. Unlisted clients are
// only deleted when the descriptor sets removeUnlisted.
const TypeSetClients = "set-clients"

func clientDefaults() sdk.Record {
	return sdk.Record{
		"enabled":      true,
		"protocol":     "openid-connect",
		"attributes":   map[string]any{},
		"redirectUris": []any{},
	}
}

type setClients struct {
	realmScoped
	desired        map[string]sdk.Record
	removeUnlisted bool
}

func newSetClients(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	desired, err := loadKeyed(loader, name, desc.String("file"), "clientId")
	if err != nil {
		return nil, err
	}
	return &setClients{realmScoped: base, desired: desired, removeUnlisted: desc.Bool("removeUnlisted")}, nil
}

func (a *setClients) Execute(ctx context.Context, remote sdk.Remote) error {
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Logger()

	scopes, err := keycloak.GetClientScopes(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	scopesByName := indexBy(scopes, "name")
	if err := a.checkScopes(scopesByName); err != nil {
		return err
	}

	clients, err := keycloak.GetClients(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	current := indexBy(clients, "clientId")
	diff := Diff(keysOf(a.desired), keysOf(current))

	if a.removeUnlisted {
		for _, cid := range diff.ToRemove {
			if keycloak.IsBuiltinClient(cid) {
				continue
			}
			log.Info().Str("client", cid).Msg("removing client")
			if err := keycloak.DeleteClient(ctx, remote, a.realm, current[cid].String("id")); err != nil {
				return err
			}
		}
	}

	for _, cid := range diff.ToCreate {
		want := a.desired[cid]
		log.Info().Str("client", cid).Msg("creating client")
		id, err := keycloak.CreateClient(ctx, remote, a.realm, withDefaults(clientDefaults(), want))
		if err != nil {
			return err
		}
		created, err := keycloak.GetClient(ctx, remote, a.realm, id)
		if err != nil {
			return err
		}
		if err := keycloak.UpdateClient(ctx, remote, a.realm, id, want); err != nil {
			return err
		}
		if err := a.reconcileScopes(ctx, remote, created, want, scopesByName); err != nil {
			return err
		}
	}

	for _, cid := range diff.ToUpdate {
		have, want := current[cid], a.desired[cid]
		log.Info().Str("client", cid).Msg("updating client")
		if err := keycloak.UpdateClient(ctx, remote, a.realm, have.String("id"), want); err != nil {
			return err
		}
		if err := a.reconcileScopes(ctx, remote, have, want, scopesByName); err != nil {
			return err
		}
	}
	return nil
}

// checkScopes rejects desired scope attachments naming scopes the realm lacks.
func (a *setClients) checkScopes(scopesByName map[string]sdk.Record) error {
	for _, cid := range keysOf(a.desired) {
		want := a.desired[cid]
		for _, field := range []string{"defaultClientScopes", "optionalClientScopes"} {
			for _, s := range want.Strings(field) {
				if _, ok := scopesByName[s]; !ok {
					return &sdk.InvalidActionConfigurationError{
						Action: a.name,
						Field:  field,
						Reason: fmt.Sprintf("client %s references unknown client scope %q", cid, s),
					}
				}
			}
		}
	}
	return nil
}

type scopeAttachment struct {
	field  string
	remove func(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error
	add    func(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error
}

var scopeAttachments = []scopeAttachment{
	{"defaultClientScopes", keycloak.DeleteDefaultClientScope, keycloak.AddDefaultClientScope},
	{"optionalClientScopes", keycloak.DeleteOptionalClientScope, keycloak.AddOptionalClientScope},
}

// reconcileScopes brings the default and optional scope lists of have in line
// with want. All removals run before any addition.
func (a *setClients) reconcileScopes(ctx context.Context, remote sdk.Remote, have, want sdk.Record, scopesByName map[string]sdk.Record) error {
	id := have.String("id")
	diffs := make([]DiffResult, len(scopeAttachments))
	for i, att := range scopeAttachments {
		diffs[i] = Diff(want.Strings(att.field), have.Strings(att.field))
	}

	for i, att := range scopeAttachments {
		for _, s := range diffs[i].ToRemove {
			scope, ok := scopesByName[s]
			if !ok {
				return fmt.Errorf("client %s: attached scope %q not found in realm %s", have.String("clientId"), s, a.realm)
			}
			if err := att.remove(ctx, remote, a.realm, id, scope.String("id")); err != nil {
				return err
			}
		}
	}
	for i, att := range scopeAttachments {
		for _, s := range diffs[i].ToCreate {
			if err := att.add(ctx, remote, a.realm, id, scopesByName[s].String("id")); err != nil {
				return err
			}
		}
	}
	return nil
}
