package action

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeCreateRealm creates a realm when it is missing. Existing realms are
// left untouched.
const TypeCreateRealm = "create-realm-if-not-exists"

type createRealm struct {
	realmScoped
}

func newCreateRealm(name string, desc sdk.Descriptor, _ sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc)
	if err != nil {
		return nil, err
	}
	return &createRealm{realmScoped: base}, nil
}

func (a *createRealm) Execute(ctx context.Context, remote sdk.Remote) error {
	log := zerolog.Ctx(ctx)

	exists, err := keycloak.RealmExists(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	if exists {
		log.Info().Str("realm", a.realm).Msg("realm already exists")
		return nil
	}

	log.Info().Str("realm", a.realm).Msg("creating realm")
	return keycloak.CreateRealm(ctx, remote, sdk.Record{
		"enabled": true,
		"id":      a.realm,
		"realm":   a.realm,
	})
}
