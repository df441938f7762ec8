package action

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// TypeSetUserRoles sets the realm roles granted to existing users.
const TypeSetUserRoles = "set-user-roles"

type userRoles struct {
	username string
	email    string
	roles    []string
}

func (u userRoles) key() string {
	if u.username != "" {
		return u.username
	}
	return u.email
}

type setUserRoles struct {
	realmScoped
	users []userRoles
}

func newSetUserRoles(name string, desc sdk.Descriptor, loader sdk.ConfigLoader) (sdk.Action, error) {
	base, err := newRealmScoped(name, desc, "file")
	if err != nil {
		return nil, err
	}
	file := desc.String("file")
	entries, err := loadObjects(loader, name, file)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	users := make([]userRoles, 0, len(entries))
	for i, e := range entries {
		u := userRoles{username: e.String("username"), email: e.String("email"), roles: e.Strings("roles")}
		if u.key() == "" {
			return nil, sdk.InvalidConfig(name, "entry %d of %s needs a username or email", i, file)
		}
		if seen[u.key()] {
			return nil, sdk.InvalidConfig(name, "duplicate user %q in %s", u.key(), file)
		}
		seen[u.key()] = true
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].key() < users[j].key() })
	return &setUserRoles{realmScoped: base, users: users}, nil
}

func (a *setUserRoles) Execute(ctx context.Context, remote sdk.Remote) error {
	if err := a.requireRealm(ctx, remote); err != nil {
		return err
	}
	log := zerolog.Ctx(ctx).With().Str("realm", a.realm).Logger()

	roles, err := keycloak.GetRoles(ctx, remote, a.realm)
	if err != nil {
		return err
	}
	rolesByName := indexBy(roles, "name")
	for _, u := range a.users {
		for _, r := range u.roles {
			if _, ok := rolesByName[r]; !ok {
				return &sdk.InvalidActionConfigurationError{
					Action: a.name,
					Field:  "roles",
					Reason: fmt.Sprintf("user %s references unknown role %q", u.key(), r),
				}
			}
		}
	}

	for _, u := range a.users {
		user, err := keycloak.FindUser(ctx, remote, a.realm, u.username, u.email)
		if err != nil {
			return err
		}
		if user == nil {
			return &sdk.InvalidActionConfigurationError{
				Action: a.name,
				Field:  "username",
				Reason: fmt.Sprintf("user %q not found in realm %s", u.key(), a.realm),
			}
		}
		id := user.String("id")

		granted, err := keycloak.GetUserRealmRoles(ctx, remote, a.realm, id)
		if err != nil {
			return err
		}
		grantedByName := indexBy(granted, "name")
		diff := Diff(u.roles, keysOf(grantedByName))

		var revoke []string
		for _, n := range diff.ToRemove {
			if !keycloak.IsReservedRole(a.realm, n) {
				revoke = append(revoke, n)
			}
		}
		if len(revoke) > 0 {
			log.Info().Str("user", u.key()).Strs("roles", revoke).Msg("revoking realm roles")
			if err := keycloak.DeleteUserRealmRoles(ctx, remote, a.realm, id, pick(grantedByName, revoke)); err != nil {
				return err
			}
		}
		if len(diff.ToCreate) > 0 {
			log.Info().Str("user", u.key()).Strs("roles", diff.ToCreate).Msg("granting realm roles")
			if err := keycloak.AddUserRealmRoles(ctx, remote, a.realm, id, pick(rolesByName, diff.ToCreate)); err != nil {
				return err
			}
		}
	}
	return nil
}
