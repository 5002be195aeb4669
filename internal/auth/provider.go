package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const tokenCacheKey = "access_token"

// User identifies the signed-in account.
type User struct {
	ID    string
	Email string
}

// Provider wraps the identity service: credential issuance, refresh, and
// auth-change notification. Success of SignIn/SignUp/SignOut is observed
// through OnAuthChanged, never through return values alone.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry

	// The access token lives in the cache with a TTL ending at the refresh
	// buffer, so a cache miss means "refresh before use".
	cache *gocache.Cache

	mu           sync.Mutex
	user         *User
	refreshToken string
	tokenExpiry  int64
	subs         map[int]func(*User)
	nextSub      int

	// onCredentials is invoked whenever tokens change so the caller can
	// persist them (config file for this client).
	onCredentials func(access, refresh string, expiry int64, user *User)
}

// New creates a provider for the identity service at baseURL.
func New(baseURL string) *Provider {
	return &Provider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        logrus.WithField("component", "auth"),
		cache:      gocache.New(gocache.NoExpiration, time.Minute),
		subs:       map[int]func(*User){},
	}
}

// SetCredentialsHandler sets the callback invoked when tokens are issued,
// refreshed, or revoked. On sign-out it is called with empty values.
func (p *Provider) SetCredentialsHandler(fn func(access, refresh string, expiry int64, user *User)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCredentials = fn
}

// Restore seeds the provider from previously persisted credentials, e.g. at
// startup. Subscribers registered afterwards observe the restored user.
func (p *Provider) Restore(access, refresh string, expiry int64, userID, email string) {
	if access == "" {
		return
	}
	if expiry == 0 {
		if exp, err := ParseJWTExpiry(access); err == nil {
			expiry = exp
		}
	}

	p.mu.Lock()
	p.user = &User{ID: userID, Email: email}
	p.refreshToken = refresh
	p.tokenExpiry = expiry
	p.cacheToken(access, expiry)
	subs := p.snapshotSubs()
	user := *p.user
	p.mu.Unlock()

	notify(subs, &user)
}

// CurrentUser returns the signed-in user, or nil.
func (p *Provider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// OnAuthChanged registers fn, invokes it once immediately with the current
// state, and returns an unsubscribe handle.
func (p *Provider) OnAuthChanged(fn func(*User)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	var current *User
	if p.user != nil {
		u := *p.user
		current = &u
	}
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Token returns a bearer token for the signed-in user. With forceRefresh set,
// or when the cached token is within the expiry buffer, a fresh token is
// obtained from the identity service first.
func (p *Provider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if !forceRefresh {
		if v, ok := p.cache.Get(tokenCacheKey); ok {
			p.mu.Unlock()
			return v.(string), nil
		}
	}
	refresh := p.refreshToken
	p.mu.Unlock()

	if refresh == "" {
		return "", ErrTokenExpired
	}

	tok, err := postTokenRequest(ctx, p.httpClient, p.baseURL+"/auth/refresh",
		map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	p.adoptTokens(tok)
	p.log.Debug("access token refreshed")
	return tok.AccessToken, nil
}

// SignIn authenticates with email and password.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	tok, err := postTokenRequest(ctx, p.httpClient, p.baseURL+"/auth/signin",
		map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	p.adoptTokens(tok)
	p.log.WithField("email", tok.User.Email).Info("signed in")
	return nil
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	tok, err := postTokenRequest(ctx, p.httpClient, p.baseURL+"/auth/signup",
		map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	p.adoptTokens(tok)
	p.log.WithField("email", tok.User.Email).Info("account created")
	return nil
}

// SignOut drops the credentials and notifies subscribers with nil.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.user = nil
	p.refreshToken = ""
	p.tokenExpiry = 0
	p.cache.Delete(tokenCacheKey)
	subs := p.snapshotSubs()
	handler := p.onCredentials
	p.mu.Unlock()

	if handler != nil {
		handler("", "", 0, nil)
	}
	notify(subs, nil)
	p.log.Info("signed out")
}

// adoptTokens installs a token response as the current identity.
func (p *Provider) adoptTokens(tok *TokenResponse) {
	expiry := time.Now().Unix() + int64(tok.ExpiresIn)
	if tok.ExpiresIn == 0 {
		if exp, err := ParseJWTExpiry(tok.AccessToken); err == nil {
			expiry = exp
		}
	}

	p.mu.Lock()
	changed := p.user == nil || p.user.ID != tok.User.ID
	p.user = &User{ID: tok.User.ID, Email: tok.User.Email}
	p.refreshToken = tok.RefreshToken
	p.tokenExpiry = expiry
	p.cacheToken(tok.AccessToken, expiry)
	handler := p.onCredentials
	user := *p.user
	var subs []func(*User)
	if changed {
		subs = p.snapshotSubs()
	}
	p.mu.Unlock()

	if handler != nil {
		handler(tok.AccessToken, tok.RefreshToken, expiry, &user)
	}
	notify(subs, &user)
}

// cacheToken stores the access token with a TTL that lands inside the refresh
// buffer. Callers must hold p.mu.
func (p *Provider) cacheToken(token string, expiry int64) {
	ttl := time.Until(time.Unix(expiry, 0)) - TokenExpiryBuffer
	if ttl <= 0 {
		// Already inside the buffer; keep it briefly so an immediate call
		// still works, the next one refreshes.
		ttl = time.Second
	}
	p.cache.Set(tokenCacheKey, token, ttl)
}

func (p *Provider) snapshotSubs() []func(*User) {
	subs := make([]func(*User), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(*User), user *User) {
	for _, fn := range subs {
		var u *User
		if user != nil {
			c := *user
			u = &c
		}
		fn(u)
	}
}
