package action

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeSetRoles makes the realm roles match a file. Reserved roles are never
// created, updated or deleted.
const TypeSetRoles = "set-roles"

type setRoles struct {
	realmScoped
	desired map[string]sdk.Record
}

func newSetRoles(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	desired, err := loadKeyed(loader, name, desc.String("file"), "name")
	if err != nil {
		return nil, err
	}
	for n := range desired {
		if keycloak.IsReservedRole(base.realm, n) {
			delete(desired, n)
		}
	}
	return &setRoles{realmScoped: base, desired: desired}, nil
}

func (a *setRoles) Execute(ctx context.Context, remote sdk.Remote) error {
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Logger()

	roles, err := keycloak.GetRoles(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	current := make(map[string]sdk.Record)
	for _, r := range roles {
		if n := r.String("name"); n != "" && !keycloak.IsReservedRole(a.realm, n) {
			current[n] = r
		}
	}

	diff := Diff(keysOf(a.desired), keysOf(current))
	for _, n := range diff.ToRemove {
		log.Info().Str("role", n).Msg("removing role")
		if err := keycloak.DeleteRole(ctx, remote, a.realm, current[n].String("id")); err != nil {
			return err
		}
	}
	for _, n := range diff.ToCreate {
		log.Info().Str("role", n).Msg("creating role")
		if err := keycloak.CreateRole(ctx, remote, a.realm, a.desired[n]); err != nil {
			return err
		}
	}
	for _, n := range diff.ToUpdate {
		log.Info().Str("role", n).Msg("updating role")
		if err := keycloak.UpdateRole(ctx, remote, a.realm, current[n].String("id"), a.desired[n]); err != nil {
			return err
		}
	}
	return nil
}
