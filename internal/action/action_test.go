package action

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcconfig/kcconfig/internal/kctest"
	"github.com/kcconfig/kcconfig/internal/keycloak"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// files is a ConfigLoader over in-memory JSON documents.
type files map[string]string

func (f files) LoadConfig(path string) (any, error) {
	raw, ok := f[path]
	if !ok {
		return nil, &sdk.ConfigurationError{Path: path, Reason: "file not found"}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &sdk.ConfigurationError{Path: path, Reason: "invalid JSON", Err: err}
	}
	return v, nil
}

func session(t *testing.T, srv *kctest.Server) *keycloak.Client {
	t.Helper()
	c := keycloak.New(srv.URL, keycloak.WithHTTPClient(srv.Client()), keycloak.WithPollInterval(10*time.Millisecond))
	require.True(t, c.InitializeSession(context.Background(), kctest.DefaultUsername, kctest.DefaultPassword))
	srv.ResetCalls()
	return c
}

func build(t *testing.T, desc sdk.Descriptor, loader sdk.ConfigLoader) sdk.Action {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltinActions(reg))
	a, err := reg.Build(desc, "dev", loader)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func descriptor(typ, file string) sdk.Descriptor {
	d := sdk.Descriptor{"name": typ + "-demo", "type": typ, "realmName": "demo"}
	if file != "" {
		d["file"] = file
	}
	return d
}

func callStrings(calls []kctest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// runTwice executes the action twice and asserts the second run only reads.
func runTwice(t *testing.T, srv *kctest.Server, c *keycloak.Client, a sdk.Action) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Execute(ctx, c))
	srv.ResetCalls()
	require.NoError(t, a.Execute(ctx, c))
	assert.Empty(t, srv.Mutations(), "second run should not mutate")
}

func TestRolesReconcile(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"id": "r1", "name": "admin"})
	srv.AddRole("demo", sdk.Record{"id": "r2", "name": "legacy"})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetRoles, "roles.json"), files{
		"roles.json": `[{"name":"admin"},{"name":"viewer"}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))

	muts := srv.Mutations()
	require.Len(t, muts, 3)
	assert.Equal(t, "DELETE /admin/realms/demo/roles-by-id/r2", muts[0].String())
	assert.Equal(t, "POST /admin/realms/demo/roles", muts[1].String())
	assert.Equal(t, map[string]any{"name": "viewer"}, muts[1].Body)
	assert.Equal(t, "PUT /admin/realms/demo/roles-by-id/r1", muts[2].String())
	assert.Equal(t, map[string]any{"name": "admin"}, muts[2].Body)

	names := []string{}
	for _, r := range srv.Roles("demo") {
		names = append(names, r.String("name"))
	}
	assert.Equal(t, []string{"admin", "viewer"}, names)
}

func TestRolesKeepReserved(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "offline_access"})
	srv.AddRole("demo", sdk.Record{"name": "uma_authorization"})
	srv.AddRole("demo", sdk.Record{"name": "default-roles-demo"})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetRoles, "roles.json"), files{"roles.json": `[{"name":"offline_access","description":"x"}]`})
	runTwice(t, srv, c, a)
	assert.Len(t, srv.Roles("demo"), 3)
}

func TestClientScopeCreatePayload(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClientScopes, "scopes.json"), files{
		"scopes.json": `[{"name":"reports"}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))

	muts := srv.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "POST /admin/realms/demo/client-scopes", muts[0].String())
	assert.Equal(t, map[string]any{
		"name":     "reports",
		"protocol": "openid-connect",
		"attributes": map[string]any{
			"include.in.token.scope":    "true",
			"display.on.consent.screen": "true",
		},
	}, muts[0].Body)
}

func TestClientScopeDesiredFieldsWin(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClientScopes, "scopes.json"), files{
		"scopes.json": `[{"name":"saml-extra","protocol":"saml","attributes":{}}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))

	scopes := srv.ClientScopes("demo")
	require.Len(t, scopes, 1)
	assert.Equal(t, "saml", scopes[0].String("protocol"))
	assert.Equal(t, map[string]any{}, scopes[0]["attributes"])
}

func TestClientScopeRemovalCleansUp(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "reader"})
	oldID := srv.AddClientScope("demo", sdk.Record{"name": "old"})
	srv.AddClientScope("demo", sdk.Record{"name": "profile"})
	srv.MapScopeRoles("demo", oldID, "reader")
	clientID := srv.AddClient("demo", sdk.Record{
		"clientId":             "web",
		"defaultClientScopes":  []any{"old", "profile"},
		"optionalClientScopes": []any{"old"},
	})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClientScopes, "scopes.json"), files{"scopes.json": `[]`})
	require.NoError(t, a.Execute(context.Background(), c))

	assert.Equal(t, []string{
		fmt.Sprintf("DELETE /admin/realms/demo/clients/%s/default-client-scopes/%s", clientID, oldID),
		fmt.Sprintf("DELETE /admin/realms/demo/clients/%s/optional-client-scopes/%s", clientID, oldID),
		fmt.Sprintf("DELETE /admin/realms/demo/client-scopes/%s/scope-mappings/realm", oldID),
		fmt.Sprintf("DELETE /admin/realms/demo/client-scopes/%s", oldID),
	}, callStrings(srv.Mutations()))

	scopes := srv.ClientScopes("demo")
	require.Len(t, scopes, 1, "built-in scope must survive")
	assert.Equal(t, "profile", scopes[0].String("name"))
	assert.Equal(t, []string{"profile"}, srv.FindClient("demo", "web").Strings("defaultClientScopes"))
}

func TestClientScopesIdempotent(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddClientScope("demo", sdk.Record{"name": "stale"})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClientScopes, "scopes.json"), files{
		"scopes.json": `[{"name":"reports"},{"name":"audit","description":"audit trail"}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))
	srv.ResetCalls()
	require.NoError(t, a.Execute(context.Background(), c))
	for _, m := range srv.Mutations() {
		assert.Equal(t, http.MethodPut, m.Method, "only updates expected on second run: %s", m)
	}
}

func TestClientsCreateAndAttachScopes(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddClientScope("demo", sdk.Record{"name": "reports"})
	srv.AddClientScope("demo", sdk.Record{"name": "email"})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClients, "clients.json"), files{
		"clients.json": `[{"clientId":"web","publicClient":true,"defaultClientScopes":["reports"],"optionalClientScopes":["email"]}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))

	web := srv.FindClient("demo", "web")
	require.NotNil(t, web)
	assert.Equal(t, true, web["publicClient"])
	assert.Equal(t, []string{"reports"}, web.Strings("defaultClientScopes"))
	assert.Equal(t, []string{"email"}, web.Strings("optionalClientScopes"))

	muts := srv.Mutations()
	require.GreaterOrEqual(t, len(muts), 2)
	assert.Equal(t, "POST /admin/realms/demo/clients", muts[0].String())
	create := muts[0].Body.(map[string]any)
	assert.Equal(t, "openid-connect", create["protocol"])
	assert.Equal(t, true, create["enabled"])
	assert.Equal(t, []any{}, create["redirectUris"])
	assert.Equal(t, "PUT /admin/realms/demo/clients/"+web.String("id"), muts[1].String())

	srv.ResetCalls()
	require.NoError(t, a.Execute(context.Background(), c))
	assert.Equal(t, []string{"PUT /admin/realms/demo/clients/" + web.String("id")}, callStrings(srv.Mutations()))
}

func TestClientsReconcileScopeAttachments(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	reportsID := srv.AddClientScope("demo", sdk.Record{"name": "reports"})
	emailID := srv.AddClientScope("demo", sdk.Record{"name": "email"})
	webID := srv.AddClient("demo", sdk.Record{
		"clientId":            "web",
		"defaultClientScopes": []any{"email"},
	})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClients, "clients.json"), files{
		"clients.json": `[{"clientId":"web","defaultClientScopes":["reports"]}]`,
	})
	require.NoError(t, a.Execute(context.Background(), c))

	assert.Equal(t, []string{
		"PUT /admin/realms/demo/clients/" + webID,
		fmt.Sprintf("DELETE /admin/realms/demo/clients/%s/default-client-scopes/%s", webID, emailID),
		fmt.Sprintf("PUT /admin/realms/demo/clients/%s/default-client-scopes/%s", webID, reportsID),
	}, callStrings(srv.Mutations()))
}

func TestClientsRemoveUnlisted(t *testing.T) {
	for _, removeUnlisted := range []bool{false, true} {
		t.Run(fmt.Sprintf("removeUnlisted=%v", removeUnlisted), func(t *testing.T) {
			srv := kctest.NewServer(t)
			srv.AddRealm("demo")
			srv.AddClient("demo", sdk.Record{"clientId": "legacy"})
			srv.AddClient("demo", sdk.Record{"clientId": "admin-cli"})
			c := session(t, srv)

			desc := descriptor(TypeSetClients, "clients.json")
			desc["removeUnlisted"] = removeUnlisted
			a := build(t, desc, files{"clients.json": `[]`})
			require.NoError(t, a.Execute(context.Background(), c))

			assert.NotNil(t, srv.FindClient("demo", "admin-cli"), "built-in client must never be removed")
			if removeUnlisted {
				assert.Nil(t, srv.FindClient("demo", "legacy"))
			} else {
				assert.NotNil(t, srv.FindClient("demo", "legacy"))
				assert.Empty(t, srv.Mutations())
			}
		})
	}
}

func TestClientsUnknownScope(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetClients, "clients.json"), files{
		"clients.json": `[{"clientId":"web","defaultClientScopes":["missing"]}]`,
	})
	err := a.Execute(context.Background(), c)
	var iace *sdk.InvalidActionConfigurationError
	require.ErrorAs(t, err, &iace)
	assert.Contains(t, iace.Reason, "missing")
	assert.Empty(t, srv.Mutations())
}

func TestRealmScopeMapping(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "reader"})
	srv.AddRole("demo", sdk.Record{"name": "writer"})
	reportsID := srv.AddClientScope("demo", sdk.Record{"name": "reports"})
	auditID := srv.AddClientScope("demo", sdk.Record{"name": "audit"})
	srv.MapScopeRoles("demo", reportsID, "writer")
	srv.MapScopeRoles("demo", auditID, "reader")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetRealmScopeMapping, "mapping.json"), files{
		"mapping.json": `[{"clientScope":"reports","roles":["reader"]}]`,
	})
	runTwice(t, srv, c, a)

	assert.Equal(t, []string{"reader"}, srv.ScopeRoleNames("demo", reportsID))
	assert.Equal(t, []string{}, srv.ScopeRoleNames("demo", auditID), "scopes absent from the file lose their roles")
}

func TestRealmScopeMappingIgnoresBuiltinScopes(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "reader"})
	emailID := srv.AddClientScope("demo", sdk.Record{"name": "email"})
	reportsID := srv.AddClientScope("demo", sdk.Record{"name": "reports"})
	srv.MapScopeRoles("demo", emailID, "reader")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetRealmScopeMapping, "mapping.json"), files{
		"mapping.json": `[{"clientScope":"email","roles":[]},{"clientScope":"reports","roles":["reader"]}]`,
	})
	runTwice(t, srv, c, a)

	assert.Equal(t, []string{"reader"}, srv.ScopeRoleNames("demo", emailID), "built-in scope mappings are left alone")
	assert.Equal(t, []string{"reader"}, srv.ScopeRoleNames("demo", reportsID))
}

func TestRealmScopeMappingUnknownReferences(t *testing.T) {
	tests := []struct {
		name    string
		mapping string
		field   string
	}{
		{"unknown scope", `[{"clientScope":"nope","roles":[]}]`, "clientScope"},
		{"unknown role", `[{"clientScope":"reports","roles":["ghost"]}]`, "roles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := kctest.NewServer(t)
			srv.AddRealm("demo")
			srv.AddClientScope("demo", sdk.Record{"name": "reports"})
			c := session(t, srv)

			a := build(t, descriptor(TypeSetRealmScopeMapping, "mapping.json"), files{"mapping.json": tt.mapping})
			var iace *sdk.InvalidActionConfigurationError
			require.ErrorAs(t, a.Execute(context.Background(), c), &iace)
			assert.Equal(t, tt.field, iace.Field)
			assert.Empty(t, srv.Mutations())
		})
	}
}

func TestUserRoles(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "admin"})
	srv.AddRole("demo", sdk.Record{"name": "viewer"})
	srv.AddRole("demo", sdk.Record{"name": "offline_access"})
	jdoe := srv.AddUser("demo", sdk.Record{"username": "jdoe", "email": "jdoe@example.com"})
	ann := srv.AddUser("demo", sdk.Record{"username": "ann", "email": "ann@example.com"})
	srv.MapUserRoles("demo", jdoe, "admin", "offline_access")
	c := session(t, srv)

	a := build(t, descriptor(TypeSetUserRoles, "users.json"), files{
		"users.json": `[{"username":"jdoe","roles":["viewer"]},{"email":"ann@example.com","roles":["admin","viewer"]}]`,
	})
	runTwice(t, srv, c, a)

	assert.Equal(t, []string{"offline_access", "viewer"}, srv.UserRoleNames("demo", jdoe))
	assert.Equal(t, []string{"admin", "viewer"}, srv.UserRoleNames("demo", ann))
}

func TestUserRolesUnknownUser(t *testing.T) {
	srv := kctest.NewServer(t)
	srv.AddRealm("demo")
	srv.AddRole("demo", sdk.Record{"name": "admin"})
	c := session(t, srv)

	a := build(t, descriptor(TypeSetUserRoles, "users.json"), files{
		"users.json": `[{"username":"ghost","roles":["admin"]}]`,
	})
	var iace *sdk.InvalidActionConfigurationError
	require.ErrorAs(t, a.Execute(context.Background(), c), &iace)
	assert.Contains(t, iace.Reason, "ghost")
}

func TestCreateRealm(t *testing.T) {
	srv := kctest.NewServer(t)
	c := session(t, srv)

	a := build(t, sdk.Descriptor{"name": "realm", "type": TypeCreateRealm, "realmName": "demo"}, files{})
	runTwice(t, srv, c, a)
	assert.True(t, srv.HasRealm("demo"))
}

func TestCreateRealmPayload(t *testing.T) {
	srv := kctest.NewServer(t)
	c := session(t, srv)

	a := build(t, sdk.Descriptor{"name": "realm", "type": TypeCreateRealm, "realmName": "demo"}, files{})
	require.NoError(t, a.Execute(context.Background(), c))
	muts := srv.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, map[string]any{"enabled": true, "id": "demo", "realm": "demo"}, muts[0].Body)
}

func TestMissingRealmIsPrecondition(t *testing.T) {
	tests := []struct {
		typ  string
		file string
	}{
		{TypeSetClientScopes, `[{"name":"reports"}]`},
		{TypeSetClients, `[{"clientId":"web"}]`},
		{TypeSetRealmScopeMapping, `[]`},
		{TypeSetRoles, `[{"name":"admin"}]`},
		{TypeSetUserRoles, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			srv := kctest.NewServer(t)
			c := session(t, srv)

			a := build(t, descriptor(tt.typ, "data.json"), files{"data.json": tt.file})
			var pe *sdk.PreconditionError
			require.ErrorAs(t, a.Execute(context.Background(), c), &pe)
			assert.Equal(t, tt.typ+"-demo", pe.Action)
			assert.Empty(t, srv.Mutations())
		})
	}
}

func TestConstructorValidation(t *testing.T) {
	tests := []struct {
		name  string
		desc  sdk.Descriptor
		files files
		field string
	}{
		{
			name:  "missing realmName",
			desc:  sdk.Descriptor{"name": "x", "type": TypeSetRoles, "file": "roles.json"},
			field: "realmName",
		},
		{
			name:  "missing file",
			desc:  sdk.Descriptor{"name": "x", "type": TypeSetRoles, "realmName": "demo"},
			field: "file",
		},
		{
			name:  "non-string realmName",
			desc:  sdk.Descriptor{"name": "x", "type": TypeCreateRealm, "realmName": 42.0},
			field: "realmName",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(zerolog.Nop())
			require.NoError(t, RegisterBuiltinActions(reg))
			_, err := reg.Build(tt.desc, "dev", files{})
			var iace *sdk.InvalidActionConfigurationError
			require.ErrorAs(t, err, &iace)
			assert.Equal(t, "x", iace.Action)
			assert.Equal(t, tt.field, iace.Field)
		})
	}
}

func TestConstructorRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		file string
	}{
		{"not an array", TypeSetRoles, `{"name":"admin"}`},
		{"entry not an object", TypeSetRoles, `["admin"]`},
		{"missing natural key", TypeSetRoles, `[{"description":"no name"}]`},
		{"duplicate key", TypeSetClients, `[{"clientId":"a"},{"clientId":"a"}]`},
		{"mapping roles not a list", TypeSetRealmScopeMapping, `[{"clientScope":"s","roles":"admin"}]`},
		{"user without key", TypeSetUserRoles, `[{"roles":["admin"]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(zerolog.Nop())
			require.NoError(t, RegisterBuiltinActions(reg))
			_, err := reg.Build(descriptor(tt.typ, "f.json"), "dev", files{"f.json": tt.file})
			var iace *sdk.InvalidActionConfigurationError
			require.ErrorAs(t, err, &iace)
		})
	}
}

func TestConstructorLoadsEagerly(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltinActions(reg))
	_, err := reg.Build(descriptor(TypeSetRoles, "absent.json"), "dev", files{})
	var ce *sdk.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "absent.json", ce.Path)
}
