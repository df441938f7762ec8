package keycloak

// Client scopes every realm ships with. They are never created, updated or
// removed by reconciliation.
var builtinClientScopes = map[string]bool{
	"acr":               true,
	"address":           true,
	"basic":             true,
	"email":             true,
	"microprofile-jwt":  true,
	"offline_access":    true,
	"organization":      true,
	"phone":             true,
	"profile":           true,
	"role_list":         true,
	"roles":             true,
	"saml_organization": true,
	"web-origins":       true,
}

var builtinClients = map[string]bool{
	"account":                true,
	"account-console":        true,
	"admin-cli":              true,
	"broker":                 true,
	"realm-management":       true,
	"security-admin-console": true,
}

// IsBuiltinClientScope reports whether name is a server-provided client scope.
func IsBuiltinClientScope(name string) bool { return builtinClientScopes[name] }

// IsBuiltinClient reports whether clientID is a server-provided client.
func IsBuiltinClient(clientID string) bool { return builtinClients[clientID] }

// IsReservedRole reports whether a realm role is managed by the server itself.
func IsReservedRole(realm, name string) bool {
	switch name {
	case "offline_access", "uma_authorization", "default-roles-" + realm:
		return true
	}
	return false
}
