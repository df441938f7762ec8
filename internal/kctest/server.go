// Package kctest provides an in-memory fake of the admin REST API for tests.
// It keeps realms, client scopes, clients, roles, users and their mappings,
// issues bearer tokens through the password grant and records every call.
package kctest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

const (
	DefaultUsername = "admin"
	DefaultPassword = "admin"
	// DefaultToken is the bearer token issued for a successful login.
	DefaultToken = "test-token"
)

// Call is one request received by the server.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   any
}

// String renders the call as "METHOD path".
func (c Call) String() string { return c.Method + " " + c.Path }

// IsMutation reports whether the call changes server state.
func (c Call) IsMutation() bool { return c.Method != http.MethodGet }

type realm struct {
	name          string
	scopes        map[string]sdk.Record
	clients       map[string]sdk.Record
	roles         map[string]sdk.Record
	users         map[string]sdk.Record
	scopeMappings map[string]map[string]bool // scope id -> role ids
	userRoles     map[string]map[string]bool // user id -> role ids
}

func newRealm(name string) *realm {
	return &realm{
		name:          name,
		scopes:        map[string]sdk.Record{},
		clients:       map[string]sdk.Record{},
		roles:         map[string]sdk.Record{},
		users:         map[string]sdk.Record{},
		scopeMappings: map[string]map[string]bool{},
		userRoles:     map[string]map[string]bool{},
	}
}

// Server is the fake admin API. Exported fields must be set before the
// first request.
type Server struct {
	*httptest.Server

	Username string
	Password string

	// UnavailableProbes makes the first N availability probes answer 503.
	UnavailableProbes int

	mu        sync.Mutex
	realms    map[string]*realm
	calls     []Call
	token     string
	nextID    int
	probes    int
	overrides map[string]int
}

// NewServer starts a fake with the master realm and registers cleanup on t.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Username:  DefaultUsername,
		Password:  DefaultPassword,
		realms:    map[string]*realm{"master": newRealm("master")},
		token:     DefaultToken,
		overrides: map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /realms/{realm}", s.handleProbe)
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", s.handleToken)

	mux.HandleFunc("POST /admin/realms", s.admin(s.createRealm))
	mux.HandleFunc("GET /admin/realms/{realm}", s.admin(s.getRealm))

	mux.HandleFunc("GET /admin/realms/{realm}/client-scopes", s.admin(s.listScopes))
	mux.HandleFunc("POST /admin/realms/{realm}/client-scopes", s.admin(s.createScope))
	mux.HandleFunc("PUT /admin/realms/{realm}/client-scopes/{id}", s.admin(s.updateScope))
	mux.HandleFunc("DELETE /admin/realms/{realm}/client-scopes/{id}", s.admin(s.deleteScope))
	mux.HandleFunc("GET /admin/realms/{realm}/client-scopes/{id}/scope-mappings/realm", s.admin(s.getScopeMapping))
	mux.HandleFunc("POST /admin/realms/{realm}/client-scopes/{id}/scope-mappings/realm", s.admin(s.addScopeMapping))
	mux.HandleFunc("DELETE /admin/realms/{realm}/client-scopes/{id}/scope-mappings/realm", s.admin(s.deleteScopeMapping))

	mux.HandleFunc("GET /admin/realms/{realm}/clients", s.admin(s.listClients))
	mux.HandleFunc("POST /admin/realms/{realm}/clients", s.admin(s.createClient))
	mux.HandleFunc("GET /admin/realms/{realm}/clients/{id}", s.admin(s.getClient))
	mux.HandleFunc("PUT /admin/realms/{realm}/clients/{id}", s.admin(s.updateClient))
	mux.HandleFunc("DELETE /admin/realms/{realm}/clients/{id}", s.admin(s.deleteClient))
	mux.HandleFunc("PUT /admin/realms/{realm}/clients/{id}/{kind}/{scope}", s.admin(s.attachScope))
	mux.HandleFunc("DELETE /admin/realms/{realm}/clients/{id}/{kind}/{scope}", s.admin(s.detachScope))

	mux.HandleFunc("GET /admin/realms/{realm}/roles", s.admin(s.listRoles))
	mux.HandleFunc("POST /admin/realms/{realm}/roles", s.admin(s.createRole))
	mux.HandleFunc("GET /admin/realms/{realm}/roles/{name}", s.admin(s.getRoleByName))
	mux.HandleFunc("PUT /admin/realms/{realm}/roles-by-id/{id}", s.admin(s.updateRole))
	mux.HandleFunc("DELETE /admin/realms/{realm}/roles-by-id/{id}", s.admin(s.deleteRole))

	mux.HandleFunc("GET /admin/realms/{realm}/users", s.admin(s.listUsers))
	mux.HandleFunc("GET /admin/realms/{realm}/users/{id}/role-mappings/realm", s.admin(s.getUserRoles))
	mux.HandleFunc("POST /admin/realms/{realm}/users/{id}/role-mappings/realm", s.admin(s.addUserRoles))
	mux.HandleFunc("DELETE /admin/realms/{realm}/users/{id}/role-mappings/realm", s.admin(s.deleteUserRoles))

	return mux
}

// --- seeding and inspection ---

func (s *Server) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// AddRealm creates a realm directly.
func (s *Server) AddRealm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.realms[name]; !ok {
		s.realms[name] = newRealm(name)
	}
}

// HasRealm reports whether the realm exists.
func (s *Server) HasRealm(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.realms[name]
	return ok
}

func (s *Server) mustRealm(name string) *realm {
	rm, ok := s.realms[name]
	if !ok {
		panic("kctest: unknown realm " + name)
	}
	return rm
}

func seed(rec sdk.Record, id string) sdk.Record {
	out := rec.Clone()
	if out.String("id") == "" {
		out["id"] = id
	}
	return out
}

// AddClientScope stores a client scope and returns its id. A record without
// an id gets a generated one.
func (s *Server) AddClientScope(realmName string, rec sdk.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := seed(rec, s.id("scope"))
	s.mustRealm(realmName).scopes[r.String("id")] = r
	return r.String("id")
}

// AddClient stores a client and returns its id.
func (s *Server) AddClient(realmName string, rec sdk.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := seed(rec, s.id("client"))
	for _, k := range []string{"defaultClientScopes", "optionalClientScopes"} {
		r[k] = toAnySlice(rec.Strings(k))
	}
	s.mustRealm(realmName).clients[r.String("id")] = r
	return r.String("id")
}

// AddRole stores a realm role and returns its id.
func (s *Server) AddRole(realmName string, rec sdk.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := seed(rec, s.id("role"))
	s.mustRealm(realmName).roles[r.String("id")] = r
	return r.String("id")
}

// AddUser stores a user and returns its id.
func (s *Server) AddUser(realmName string, rec sdk.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := seed(rec, s.id("user"))
	s.mustRealm(realmName).users[r.String("id")] = r
	return r.String("id")
}

// MapScopeRoles maps realm roles (by name) to a client scope (by id).
func (s *Server) MapScopeRoles(realmName, scopeID string, roleNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.mustRealm(realmName)
	for _, n := range roleNames {
		role := rm.roleByName(n)
		if role == nil {
			panic("kctest: unknown role " + n)
		}
		if rm.scopeMappings[scopeID] == nil {
			rm.scopeMappings[scopeID] = map[string]bool{}
		}
		rm.scopeMappings[scopeID][role.String("id")] = true
	}
}

// MapUserRoles grants realm roles (by name) to a user (by id).
func (s *Server) MapUserRoles(realmName, userID string, roleNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.mustRealm(realmName)
	for _, n := range roleNames {
		role := rm.roleByName(n)
		if role == nil {
			panic("kctest: unknown role " + n)
		}
		if rm.userRoles[userID] == nil {
			rm.userRoles[userID] = map[string]bool{}
		}
		rm.userRoles[userID][role.String("id")] = true
	}
}

// SetStatus forces every request matching "METHOD path" to answer status.
func (s *Server) SetStatus(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+path] = status
}

// Calls returns every recorded admin call.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Mutations returns the recorded POST, PUT and DELETE admin calls.
func (s *Server) Mutations() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.IsMutation() {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func sortedByKey(m map[string]sdk.Record, key string) []sdk.Record {
	out := make([]sdk.Record, 0, len(m))
	for _, r := range m {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String(key) < out[j].String(key) })
	return out
}

// ClientScopes returns the realm's client scopes sorted by name.
func (s *Server) ClientScopes(realmName string) []sdk.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByKey(s.mustRealm(realmName).scopes, "name")
}

// Clients returns the realm's clients sorted by clientId.
func (s *Server) Clients(realmName string) []sdk.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByKey(s.mustRealm(realmName).clients, "clientId")
}

// FindClient returns the client with clientID, or nil.
func (s *Server) FindClient(realmName, clientID string) sdk.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.mustRealm(realmName).clients {
		if c.String("clientId") == clientID {
			return c.Clone()
		}
	}
	return nil
}

// Roles returns the realm's roles sorted by name.
func (s *Server) Roles(realmName string) []sdk.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByKey(s.mustRealm(realmName).roles, "name")
}

// ScopeRoleNames returns the role names mapped to a scope, sorted.
func (s *Server) ScopeRoleNames(realmName, scopeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.mustRealm(realmName)
	return rm.roleNames(rm.scopeMappings[scopeID])
}

// UserRoleNames returns the role names granted to a user, sorted.
func (s *Server) UserRoleNames(realmName, userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.mustRealm(realmName)
	return rm.roleNames(rm.userRoles[userID])
}

func (rm *realm) roleByName(name string) sdk.Record {
	for _, r := range rm.roles {
		if r.String("name") == name {
			return r
		}
	}
	return nil
}

func (rm *realm) scopeByName(name string) sdk.Record {
	for _, r := range rm.scopes {
		if r.String("name") == name {
			return r
		}
	}
	return nil
}

func (rm *realm) roleNames(ids map[string]bool) []string {
	out := []string{}
	for id := range ids {
		if r, ok := rm.roles[id]; ok {
			out = append(out, r.String("name"))
		}
	}
	sort.Strings(out)
	return out
}

func (rm *realm) rolesFor(ids map[string]bool) []sdk.Record {
	out := []sdk.Record{}
	for id := range ids {
		if r, ok := rm.roles[id]; ok {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String("name") < out[j].String("name") })
	return out
}

// --- plumbing ---

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errorMessage": msg})
}

type adminHandler func(w http.ResponseWriter, r *http.Request, body any)

// admin checks the bearer token, records the call and runs h under the lock.
func (s *Server) admin(h adminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})

		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "HTTP 401 Unauthorized")
			return
		}
		if status, ok := s.overrides[r.Method+" "+r.URL.Path]; ok {
			writeError(w, status, "forced status")
			return
		}
		h(w, r, body)
	}
}

func (s *Server) realmFor(w http.ResponseWriter, r *http.Request) *realm {
	rm, ok := s.realms[r.PathValue("realm")]
	if !ok {
		writeError(w, http.StatusNotFound, "Realm not found.")
		return nil
	}
	return rm
}

func asRecord(body any) (sdk.Record, bool) {
	m, ok := body.(map[string]any)
	return sdk.Record(m), ok
}

func asRecords(body any) []sdk.Record {
	list, _ := body.([]any)
	out := make([]sdk.Record, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, sdk.Record(m))
		}
	}
	return out
}

// --- handlers ---

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	if s.probes <= s.UnavailableProbes {
		writeError(w, http.StatusServiceUnavailable, "starting")
		return
	}
	if _, ok := s.realms[r.PathValue("realm")]; !ok {
		writeError(w, http.StatusNotFound, "Realm not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"realm": r.PathValue("realm")})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if r.PostForm.Get("username") != s.Username || r.PostForm.Get("password") != s.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid user credentials",
		})
		return
	}
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   60,
	})
}

func (s *Server) createRealm(w http.ResponseWriter, _ *http.Request, body any) {
	rec, ok := asRecord(body)
	name := rec.String("realm")
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, "realm is required")
		return
	}
	if _, exists := s.realms[name]; exists {
		writeError(w, http.StatusConflict, "Realm already exists")
		return
	}
	s.realms[name] = newRealm(name)
	w.Header().Set("Location", s.URL+"/admin/realms/"+name)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getRealm(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rm.name, "realm": rm.name, "enabled": true})
}

func (s *Server) listScopes(w http.ResponseWriter, r *http.Request, _ any) {
	if rm := s.realmFor(w, r); rm != nil {
		writeJSON(w, http.StatusOK, sortedByKey(rm.scopes, "name"))
	}
}

func (s *Server) createScope(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	rec, ok := asRecord(body)
	if !ok || rec.String("name") == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if rm.scopeByName(rec.String("name")) != nil {
		writeError(w, http.StatusConflict, "Client Scope already exists")
		return
	}
	stored := rec.Clone()
	stored["id"] = s.id("scope")
	rm.scopes[stored.String("id")] = stored
	w.Header().Set("Location", s.URL+r.URL.Path+"/"+stored.String("id"))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) updateScope(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.scopes[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	rec, _ := asRecord(body)
	stored := rec.Clone()
	stored["id"] = id
	rm.scopes[id] = stored
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteScope(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	scope, ok := rm.scopes[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	// The server refuses to delete a scope still attached to a client.
	for _, c := range rm.clients {
		for _, k := range []string{"defaultClientScopes", "optionalClientScopes"} {
			for _, n := range c.Strings(k) {
				if n == scope.String("name") {
					writeError(w, http.StatusBadRequest, "Cannot remove client scope, it is currently in use")
					return
				}
			}
		}
	}
	delete(rm.scopes, id)
	delete(rm.scopeMappings, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getScopeMapping(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.scopes[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	writeJSON(w, http.StatusOK, rm.rolesFor(rm.scopeMappings[id]))
}

func (s *Server) mutateRoleSet(w http.ResponseWriter, rm *realm, set map[string]bool, body any, add bool) {
	for _, role := range asRecords(body) {
		id := role.String("id")
		if _, ok := rm.roles[id]; !ok {
			if byName := rm.roleByName(role.String("name")); byName != nil {
				id = byName.String("id")
			} else {
				writeError(w, http.StatusNotFound, "Role not found")
				return
			}
		}
		if add {
			set[id] = true
		} else {
			delete(set, id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addScopeMapping(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.scopes[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	if rm.scopeMappings[id] == nil {
		rm.scopeMappings[id] = map[string]bool{}
	}
	s.mutateRoleSet(w, rm, rm.scopeMappings[id], body, true)
}

func (s *Server) deleteScopeMapping(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.scopes[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	if rm.scopeMappings[id] == nil {
		rm.scopeMappings[id] = map[string]bool{}
	}
	s.mutateRoleSet(w, rm, rm.scopeMappings[id], body, false)
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request, _ any) {
	if rm := s.realmFor(w, r); rm != nil {
		writeJSON(w, http.StatusOK, sortedByKey(rm.clients, "clientId"))
	}
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	rec, ok := asRecord(body)
	if !ok || rec.String("clientId") == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	for _, c := range rm.clients {
		if c.String("clientId") == rec.String("clientId") {
			writeError(w, http.StatusConflict, "Client already exists")
			return
		}
	}
	stored := rec.Clone()
	stored["id"] = s.id("client")
	for _, k := range []string{"defaultClientScopes", "optionalClientScopes"} {
		stored[k] = toAnySlice(rec.Strings(k))
	}
	rm.clients[stored.String("id")] = stored
	w.Header().Set("Location", s.URL+r.URL.Path+"/"+stored.String("id"))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	c, ok := rm.clients[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// updateClient replaces the representation but keeps scope attachments,
// which the server only changes through the attachment endpoints.
func (s *Server) updateClient(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	cur, ok := rm.clients[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	rec, _ := asRecord(body)
	stored := rec.Clone()
	stored["id"] = id
	stored["defaultClientScopes"] = cur["defaultClientScopes"]
	stored["optionalClientScopes"] = cur["optionalClientScopes"]
	rm.clients[id] = stored
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.clients[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	delete(rm.clients, id)
	w.WriteHeader(http.StatusNoContent)
}

func scopeListKey(kind string) (string, bool) {
	switch kind {
	case "default-client-scopes":
		return "defaultClientScopes", true
	case "optional-client-scopes":
		return "optionalClientScopes", true
	}
	return "", false
}

func (s *Server) attachScope(w http.ResponseWriter, r *http.Request, _ any) {
	s.changeAttachment(w, r, true)
}

func (s *Server) detachScope(w http.ResponseWriter, r *http.Request, _ any) {
	s.changeAttachment(w, r, false)
}

func (s *Server) changeAttachment(w http.ResponseWriter, r *http.Request, attach bool) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	key, ok := scopeListKey(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	client, ok := rm.clients[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	scope, ok := rm.scopes[r.PathValue("scope")]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find client scope")
		return
	}
	name := scope.String("name")

	var names []string
	for _, n := range client.Strings(key) {
		if n != name {
			names = append(names, n)
		}
	}
	if attach {
		names = append(names, name)
	}
	client[key] = toAnySlice(names)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request, _ any) {
	if rm := s.realmFor(w, r); rm != nil {
		writeJSON(w, http.StatusOK, sortedByKey(rm.roles, "name"))
	}
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	rec, ok := asRecord(body)
	if !ok || rec.String("name") == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if rm.roleByName(rec.String("name")) != nil {
		writeError(w, http.StatusConflict, "Role already exists")
		return
	}
	stored := rec.Clone()
	stored["id"] = s.id("role")
	rm.roles[stored.String("id")] = stored
	w.Header().Set("Location", s.URL+r.URL.Path+"/"+rec.String("name"))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getRoleByName(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	role := rm.roleByName(r.PathValue("name"))
	if role == nil {
		writeError(w, http.StatusNotFound, "Could not find role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request, body any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.roles[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find role")
		return
	}
	rec, _ := asRecord(body)
	stored := rec.Clone()
	stored["id"] = id
	rm.roles[id] = stored
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	id := r.PathValue("id")
	if _, ok := rm.roles[id]; !ok {
		writeError(w, http.StatusNotFound, "Could not find role")
		return
	}
	delete(rm.roles, id)
	for _, set := range rm.scopeMappings {
		delete(set, id)
	}
	for _, set := range rm.userRoles {
		delete(set, id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, _ any) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return
	}
	q := r.URL.Query()
	out := []sdk.Record{}
	for _, u := range sortedByKey(rm.users, "username") {
		if v := q.Get("username"); v != "" && !strings.EqualFold(u.String("username"), v) {
			continue
		}
		if v := q.Get("email"); v != "" && !strings.EqualFold(u.String("email"), v) {
			continue
		}
		out = append(out, u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) userFor(w http.ResponseWriter, r *http.Request) (*realm, string) {
	rm := s.realmFor(w, r)
	if rm == nil {
		return nil, ""
	}
	id := r.PathValue("id")
	if _, ok := rm.users[id]; !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return nil, ""
	}
	if rm.userRoles[id] == nil {
		rm.userRoles[id] = map[string]bool{}
	}
	return rm, id
}

func (s *Server) getUserRoles(w http.ResponseWriter, r *http.Request, _ any) {
	if rm, id := s.userFor(w, r); rm != nil {
		writeJSON(w, http.StatusOK, rm.rolesFor(rm.userRoles[id]))
	}
}

func (s *Server) addUserRoles(w http.ResponseWriter, r *http.Request, body any) {
	if rm, id := s.userFor(w, r); rm != nil {
		s.mutateRoleSet(w, rm, rm.userRoles[id], body, true)
	}
}

func (s *Server) deleteUserRoles(w http.ResponseWriter, r *http.Request, body any) {
	if rm, id := s.userFor(w, r); rm != nil {
		s.mutateRoleSet(w, rm, rm.userRoles[id], body, false)
	}
}
