// Package fakebackend is an in-memory implementation of the auth backend's
// HTTP contract for tests. Tokens are issued as t1, t2, ... and r1, r2, ...
package fakebackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/users"
)

const (
	LoginPath          = "/auth/login"
	RegisterPath       = "/auth/register"
	RefreshPath        = "/auth/refresh"
	WhoAmIPath         = "/auth/me"
	LogoutPath         = "/auth/logout"
	ForgotPasswordPath = "/auth/forgot-password"
	ResetPasswordPath  = "/auth/reset-password"
	DataPath           = "/api/data"
	EchoPath           = "/api/echo"

	// ValidResetToken is the only reset token the backend accepts.
	ValidResetToken = "reset-ok"
)

type account struct {
	password string
	user     users.User
}

// Counters records how many times each endpoint was hit.
type Counters struct {
	Login, Register, Refresh, WhoAmI, Logout, ForgotPassword, ResetPassword, Data atomic.Int64
}

// Backend is a fake auth API. The zero value is not usable; call New.
type Backend struct {
	*httptest.Server
	Counters Counters

	mu            sync.Mutex
	accounts      map[string]*account // email -> account
	access        map[string]string   // access token -> email
	refresh       map[string]string   // refresh token -> email
	seq           int
	lastAuth      []string
	refreshBodies []string

	failRefresh     atomic.Bool
	failWhoAmI      atomic.Bool
	rejectAllData   atomic.Bool
	refreshGate     chan struct{}
	whoAmIGates     map[string]chan struct{} // access token -> gate
	refreshDelay    time.Duration
	logoutStatus    int
	logoutDelay     time.Duration
	dataUnauthCount atomic.Int64
}

// New starts a backend. Close it with Backend.Close.
func New() *Backend {
	b := &Backend{
		accounts:     make(map[string]*account),
		access:       make(map[string]string),
		refresh:      make(map[string]string),
		logoutStatus: http.StatusNoContent,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+LoginPath, b.login)
	mux.HandleFunc("POST "+RegisterPath, b.register)
	mux.HandleFunc("POST "+RefreshPath, b.refreshHandler)
	mux.HandleFunc("GET "+WhoAmIPath, b.whoAmI)
	mux.HandleFunc("POST "+LogoutPath, b.logout)
	mux.HandleFunc("POST "+ForgotPasswordPath, b.forgotPassword)
	mux.HandleFunc("POST "+ResetPasswordPath, b.resetPassword)
	mux.HandleFunc("GET "+DataPath, b.data)
	mux.HandleFunc("POST "+EchoPath, b.echo)
	b.Server = httptest.NewServer(mux)
	return b
}

// AddUser registers an account that can log in.
func (b *Backend) AddUser(email, password string) users.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(email, password, "")
}

func (b *Backend) addUserLocked(email, password, displayName string) users.User {
	u := users.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		Role:         users.RoleMember,
		Organization: "acme",
	}
	b.accounts[email] = &account{password: password, user: u}
	return u
}

// IssuePair creates a valid pair for email without a login call.
func (b *Backend) IssuePair(email string) oauthmodel.TokenResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(email)
}

func (b *Backend) issueLocked(email string) oauthmodel.TokenResponse {
	b.seq++
	at := fmt.Sprintf("t%d", b.seq)
	rt := fmt.Sprintf("r%d", b.seq)
	b.access[at] = email
	b.refresh[rt] = email
	return oauthmodel.TokenResponse{AccessToken: at, RefreshToken: rt, TokenType: "bearer", ExpiresIn: 86400}
}

// ExpireAccess makes the backend reject an access token from now on.
func (b *Backend) ExpireAccess(accessToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.access, accessToken)
}

// RevokeRefresh makes the backend reject a refresh token from now on.
func (b *Backend) RevokeRefresh(refreshToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, refreshToken)
}

// FailRefresh makes every refresh call return 401.
func (b *Backend) FailRefresh(fail bool) { b.failRefresh.Store(fail) }

// FailWhoAmI makes the who am I endpoint return 500.
func (b *Backend) FailWhoAmI(fail bool) { b.failWhoAmI.Store(fail) }

// RejectAllData makes the data endpoint answer 401 regardless of token.
func (b *Backend) RejectAllData(reject bool) { b.rejectAllData.Store(reject) }

// HoldRefresh blocks refresh responses until the returned func is called.
// Must be called before requests are sent.
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldWhoAmI blocks who am I requests carrying accessToken until the
// returned func is called. Other tokens are answered as usual.
func (b *Backend) HoldWhoAmI(accessToken string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	if b.whoAmIGates == nil {
		b.whoAmIGates = make(map[string]chan struct{})
	}
	b.whoAmIGates[accessToken] = gate
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetRefreshDelay delays every refresh response.
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// SetLogout configures the logout endpoint's status and delay.
func (b *Backend) SetLogout(status int, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logoutStatus = status
	b.logoutDelay = delay
}

// DataUnauthorized returns how many data requests were answered with 401.
func (b *Backend) DataUnauthorized() int64 { return b.dataUnauthCount.Load() }

// AuthorizationHeaders returns the Authorization header of every request seen, in order.
func (b *Backend) AuthorizationHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lastAuth...)
}

// RefreshBodies returns the refresh_token sent on each refresh call.
func (b *Backend) RefreshBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.refreshBodies...)
}

func (b *Backend) record(r *http.Request) {
	b.mu.Lock()
	b.lastAuth = append(b.lastAuth, r.Header.Get("Authorization"))
	b.mu.Unlock()
}

// bearerUser returns the account for the request's access token.
func (b *Backend) bearerUser(r *http.Request) (*account, bool) {
	b.record(r)
	header := r.Header.Get("Authorization")
	at, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.access[at]
	if !ok {
		return nil, false
	}
	acct, ok := b.accounts[email]
	return acct, ok
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	b.Counters.Login.Add(1)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeError(w, http.StatusUnsupportedMediaType, "expected form data")
		return
	}
	email, password := r.PostFormValue("username"), r.PostFormValue("password")

	b.mu.Lock()
	acct, ok := b.accounts[email]
	if !ok || acct.password != password {
		b.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	resp := b.issueLocked(email)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

type registerBody struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	b.Counters.Register.Add(1)
	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	b.mu.Lock()
	if _, exists := b.accounts[body.Email]; exists {
		b.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := b.addUserLocked(body.Email, body.Password, body.DisplayName)
	resp := b.issueLocked(body.Email)
	resp.User = &u
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, resp)
}

func (b *Backend) refreshHandler(w http.ResponseWriter, r *http.Request) {
	b.Counters.Refresh.Add(1)
	b.record(r)
	var body oauthmodel.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	b.mu.Lock()
	b.refreshBodies = append(b.refreshBodies, body.RefreshToken)
	gate, delay := b.refreshGate, b.refreshDelay
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if b.failRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	b.mu.Lock()
	email, ok := b.refresh[body.RefreshToken]
	if !ok {
		b.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(b.refresh, body.RefreshToken)
	resp := b.issueLocked(email)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) whoAmI(w http.ResponseWriter, r *http.Request) {
	b.Counters.WhoAmI.Add(1)
	b.mu.Lock()
	gate := b.whoAmIGates[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if b.failWhoAmI.Load() {
		b.record(r)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	acct, ok := b.bearerUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.Counters.Logout.Add(1)
	b.record(r)
	var body oauthmodel.LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	status, delay := b.logoutStatus, b.logoutDelay
	if body.RefreshToken != "" {
		delete(b.refresh, body.RefreshToken)
	}
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	w.WriteHeader(status)
}

func (b *Backend) forgotPassword(w http.ResponseWriter, r *http.Request) {
	b.Counters.ForgotPassword.Add(1)
	var body oauthmodel.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "If the account exists, an email has been sent"})
}

func (b *Backend) resetPassword(w http.ResponseWriter, r *http.Request) {
	b.Counters.ResetPassword.Add(1)
	var body oauthmodel.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if body.Token != ValidResetToken {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (b *Backend) data(w http.ResponseWriter, r *http.Request) {
	b.Counters.Data.Add(1)
	acct, ok := b.bearerUser(r)
	if !ok || b.rejectAllData.Load() {
		b.dataUnauthCount.Add(1)
		writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": acct.user.Email})
}

func (b *Backend) echo(w http.ResponseWriter, r *http.Request) {
	if _, ok := b.bearerUser(r); !ok {
		writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
