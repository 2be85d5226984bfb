package auth

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

// basicRealm is sent in the WWW-Authenticate challenge of the endpoint.
const basicRealm = `Basic realm="wikisync", charset="UTF-8"`

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithUser returns a copy of ctx carrying an authenticated user ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// UserCredentials maps usernames to bcrypt password hashes.
type UserCredentials map[string]string

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// dummyHash is compared against when the username is unknown so that
// unknown users cost the same bcrypt work as wrong passwords.
var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("wikisync"), bcrypt.DefaultCost)
	return hash
})

// Authenticator verifies basic auth credentials. A sync run sends the
// same credentials with every request, so verified pairs are remembered
// by digest and the bcrypt comparison runs once per pair.
type Authenticator struct {
	users    UserCredentials
	mu       sync.Mutex
	verified map[[sha256.Size]byte]string // digest(user:password) -> user
}

// NewAuthenticator creates an Authenticator for the given users.
func NewAuthenticator(users UserCredentials) *Authenticator {
	return &Authenticator{
		users:    users,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Verify reports whether password matches the stored hash of username.
func (a *Authenticator) Verify(username, password string) bool {
	digest := sha256.Sum256([]byte(username + ":" + password))

	a.mu.Lock()
	user, ok := a.verified[digest]
	a.mu.Unlock()

	if ok && user == username {
		return true
	}

	hash, known := a.users[username]
	if !known {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return false
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return false
	}

	a.mu.Lock()
	a.verified[digest] = username
	a.mu.Unlock()

	return true
}

// BasicAuth returns HTTP middleware that requires operator credentials.
// Unauthenticated requests get a 401 with a Basic challenge.
func BasicAuth(authn *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			username, password, ok := r.BasicAuth()
			if !ok || !authn.Verify(username, password) {
				logger.Debug("middleware: basic auth rejected",
					slog.String("user", username),
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", basicRealm)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, username)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Middleware returns HTTP middleware that validates Bearer API keys.
// Unauthenticated requests get a 401 with a Bearer challenge.
func Middleware(store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	const (
		wwwAuthNoToken = `Bearer realm="wikisync"`
		// error="invalid_token" tells the client its key was rejected.
		wwwAuthInvalid = `Bearer realm="wikisync", error="invalid_token"`
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			ip := remoteIP(r)

			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			userID, ok := store.ValidateAPIKey(token)
			if !ok {
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated via API key",
				slog.String("user_id", userID),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, userID)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
