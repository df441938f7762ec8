package action

import sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"

// Builtins lists the action types shipped with kcconfig.
var Builtins = []sdk.Registration{
	{
		Type:        TypeCreateRealm,
		Description: "Create the realm if it does not exist",
		New:         newCreateRealm,
	},
	{
		Type:        TypeCustom,
		Description: "Run an executable from the source directory with the admin session",
		New:         newCustom,
	},
	{
		Type:        TypeSetClientScopes,
		Description: "Create, update and remove client scopes to match a file",
		New:         newSetClientScopes,
	},
	{
		Type:        TypeSetClients,
		Description: "Create and update clients and their scope attachments",
		New:         newSetClients,
	},
	{
		Type:        TypeSetRealmScopeMapping,
		Description: "Set the realm roles mapped to each client scope",
		New:         newSetRealmScopeMapping,
	},
	{
		Type:        TypeSetRoles,
		Description: "Create, update and remove realm roles to match a file",
		New:         newSetRoles,
	},
	{
		Type:        TypeSetUserRoles,
		Description: "Grant and revoke realm roles of existing users",
		New:         newSetUserRoles,
	},
}

// RegisterBuiltinActions adds every built-in action type to reg.
func RegisterBuiltinActions(reg *Registry) error {
	for _, b := range Builtins {
		if err := reg.Register(b); err != nil {
			return err
		}
	}
	return nil
}
