package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

var _ sdk.Remote = (*Client)(nil)

// maxErrorBody caps how much of an unexpected response body ends up in errors.
const maxErrorBody = 512

func realmPath(realm string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/admin/realms/")
	b.WriteString(url.PathEscape(realm))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func unexpected(op, method, path string, resp *sdk.Response) error {
	body := string(resp.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return &sdk.UnexpectedResponseError{
		Operation:  op,
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(body),
	}
}

// getList issues a GET expecting 200 and a JSON array of objects.
func getList(ctx context.Context, r sdk.Remote, op, path string) ([]sdk.Record, error) {
	resp, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpected(op, http.MethodGet, path, resp)
	}
	var out []sdk.Record
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// getOne issues a GET; 404 yields (nil, nil).
func getOne(ctx context.Context, r sdk.Remote, op, path string) (sdk.Record, error) {
	resp, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var out sdk.Record
		if err := resp.Decode(&out); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return out, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpected(op, http.MethodGet, path, resp)
	}
}

// send issues a mutating call and checks the status.
func send(ctx context.Context, r sdk.Remote, op, method, path string, body any, want int) (*sdk.Response, error) {
	var (
		resp *sdk.Response
		err  error
	)
	switch method {
	case http.MethodPost:
		resp, err = r.Post(ctx, path, body)
	case http.MethodPut:
		resp, err = r.Put(ctx, path, body)
	case http.MethodDelete:
		resp, err = r.Delete(ctx, path, body)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		return nil, unexpected(op, method, path, resp)
	}
	return resp, nil
}

// --- realms ---

// RealmExists reports whether realm exists: 200 true, 404 false.
func RealmExists(ctx context.Context, r sdk.Remote, realm string) (bool, error) {
	path := realmPath(realm)
	resp, err := r.Get(ctx, path)
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpected("realm get", http.MethodGet, path, resp)
	}
}

// CreateRealm creates a realm from its representation.
func CreateRealm(ctx context.Context, r sdk.Remote, realm sdk.Record) error {
	_, err := send(ctx, r, "realm create", http.MethodPost, "/admin/realms", realm, http.StatusCreated)
	return err
}

// --- client scopes ---

func GetClientScopes(ctx context.Context, r sdk.Remote, realm string) ([]sdk.Record, error) {
	return getList(ctx, r, "client scopes get", realmPath(realm, "client-scopes"))
}

func CreateClientScope(ctx context.Context, r sdk.Remote, realm string, scope sdk.Record) error {
	_, err := send(ctx, r, "client scope create", http.MethodPost, realmPath(realm, "client-scopes"), scope, http.StatusCreated)
	return err
}

func UpdateClientScope(ctx context.Context, r sdk.Remote, realm, id string, scope sdk.Record) error {
	_, err := send(ctx, r, "client scope update", http.MethodPut, realmPath(realm, "client-scopes", id), scope, http.StatusNoContent)
	return err
}

func DeleteClientScope(ctx context.Context, r sdk.Remote, realm, id string) error {
	_, err := send(ctx, r, "client scope delete", http.MethodDelete, realmPath(realm, "client-scopes", id), nil, http.StatusNoContent)
	return err
}

// GetRealmScopeMapping returns the realm roles mapped to a client scope.
func GetRealmScopeMapping(ctx context.Context, r sdk.Remote, realm, scopeID string) ([]sdk.Record, error) {
	return getList(ctx, r, "scope mapping get", realmPath(realm, "client-scopes", scopeID, "scope-mappings", "realm"))
}

func AddRealmScopeMapping(ctx context.Context, r sdk.Remote, realm, scopeID string, roles []sdk.Record) error {
	path := realmPath(realm, "client-scopes", scopeID, "scope-mappings", "realm")
	_, err := send(ctx, r, "scope mapping add", http.MethodPost, path, roles, http.StatusNoContent)
	return err
}

func DeleteRealmScopeMapping(ctx context.Context, r sdk.Remote, realm, scopeID string, roles []sdk.Record) error {
	path := realmPath(realm, "client-scopes", scopeID, "scope-mappings", "realm")
	_, err := send(ctx, r, "scope mapping delete", http.MethodDelete, path, roles, http.StatusNoContent)
	return err
}

// --- clients ---

func GetClients(ctx context.Context, r sdk.Remote, realm string) ([]sdk.Record, error) {
	return getList(ctx, r, "clients get", realmPath(realm, "clients"))
}

// GetClient fetches a client by its server id (not clientId).
func GetClient(ctx context.Context, r sdk.Remote, realm, id string) (sdk.Record, error) {
	path := realmPath(realm, "clients", id)
	rec, err := getOne(ctx, r, "client get", path)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &sdk.UnexpectedResponseError{Operation: "client get", Method: http.MethodGet, Path: path, StatusCode: http.StatusNotFound}
	}
	return rec, nil
}

// CreateClient creates a client and returns the server id taken from the
// Location header.
func CreateClient(ctx context.Context, r sdk.Remote, realm string, client sdk.Record) (string, error) {
	path := realmPath(realm, "clients")
	resp, err := send(ctx, r, "client create", http.MethodPost, path, client, http.StatusCreated)
	if err != nil {
		return "", err
	}
	loc := resp.Header.Get("Location")
	idx := strings.LastIndex(loc, "/")
	if idx < 0 || idx == len(loc)-1 {
		return "", fmt.Errorf("client create: missing id in Location header %q", loc)
	}
	id, err := url.PathUnescape(loc[idx+1:])
	if err != nil {
		return "", fmt.Errorf("client create: invalid Location header %q: %w", loc, err)
	}
	return id, nil
}

func UpdateClient(ctx context.Context, r sdk.Remote, realm, id string, client sdk.Record) error {
	_, err := send(ctx, r, "client update", http.MethodPut, realmPath(realm, "clients", id), client, http.StatusNoContent)
	return err
}

// DeleteClient removes a client by server id.
func DeleteClient(ctx context.Context, r sdk.Remote, realm, id string) error {
	_, err := send(ctx, r, "client delete", http.MethodDelete, realmPath(realm, "clients", id), nil, http.StatusNoContent)
	return err
}

func AddDefaultClientScope(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error {
	path := realmPath(realm, "clients", clientID, "default-client-scopes", scopeID)
	_, err := send(ctx, r, "default client scope add", http.MethodPut, path, nil, http.StatusNoContent)
	return err
}

func DeleteDefaultClientScope(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error {
	path := realmPath(realm, "clients", clientID, "default-client-scopes", scopeID)
	_, err := send(ctx, r, "default client scope delete", http.MethodDelete, path, nil, http.StatusNoContent)
	return err
}

func AddOptionalClientScope(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error {
	path := realmPath(realm, "clients", clientID, "optional-client-scopes", scopeID)
	_, err := send(ctx, r, "optional client scope add", http.MethodPut, path, nil, http.StatusNoContent)
	return err
}

func DeleteOptionalClientScope(ctx context.Context, r sdk.Remote, realm, clientID, scopeID string) error {
	path := realmPath(realm, "clients", clientID, "optional-client-scopes", scopeID)
	_, err := send(ctx, r, "optional client scope delete", http.MethodDelete, path, nil, http.StatusNoContent)
	return err
}

// --- roles ---

func GetRoles(ctx context.Context, r sdk.Remote, realm string) ([]sdk.Record, error) {
	return getList(ctx, r, "roles get", realmPath(realm, "roles"))
}

// GetRoleByName returns nil when the role does not exist.
func GetRoleByName(ctx context.Context, r sdk.Remote, realm, name string) (sdk.Record, error) {
	return getOne(ctx, r, "role get", realmPath(realm, "roles", name))
}

func CreateRole(ctx context.Context, r sdk.Remote, realm string, role sdk.Record) error {
	_, err := send(ctx, r, "role create", http.MethodPost, realmPath(realm, "roles"), role, http.StatusCreated)
	return err
}

// UpdateRole updates a role addressed by server id.
func UpdateRole(ctx context.Context, r sdk.Remote, realm, id string, role sdk.Record) error {
	_, err := send(ctx, r, "role update", http.MethodPut, realmPath(realm, "roles-by-id", id), role, http.StatusNoContent)
	return err
}

// DeleteRole deletes a role addressed by server id.
func DeleteRole(ctx context.Context, r sdk.Remote, realm, id string) error {
	_, err := send(ctx, r, "role delete", http.MethodDelete, realmPath(realm, "roles-by-id", id), nil, http.StatusNoContent)
	return err
}

// --- users ---

// FindUser looks a user up by exact username, or by email when username is
// empty. It returns nil when no user matches.
func FindUser(ctx context.Context, r sdk.Remote, realm, username, email string) (sdk.Record, error) {
	q := url.Values{"exact": {"true"}}
	field, want := "username", username
	if username != "" {
		q.Set("username", username)
	} else {
		q.Set("email", email)
		field, want = "email", email
	}
	users, err := getList(ctx, r, "users get", realmPath(realm, "users")+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.String(field), want) {
			return u, nil
		}
	}
	return nil, nil
}

func GetUserRealmRoles(ctx context.Context, r sdk.Remote, realm, userID string) ([]sdk.Record, error) {
	return getList(ctx, r, "user roles get", realmPath(realm, "users", userID, "role-mappings", "realm"))
}

func AddUserRealmRoles(ctx context.Context, r sdk.Remote, realm, userID string, roles []sdk.Record) error {
	path := realmPath(realm, "users", userID, "role-mappings", "realm")
	_, err := send(ctx, r, "user roles add", http.MethodPost, path, roles, http.StatusNoContent)
	return err
}

func DeleteUserRealmRoles(ctx context.Context, r sdk.Remote, realm, userID string, roles []sdk.Record) error {
	path := realmPath(realm, "users", userID, "role-mappings", "realm")
	_, err := send(ctx, r, "user roles delete", http.MethodDelete, path, roles, http.StatusNoContent)
	return err
}
