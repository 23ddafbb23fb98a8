package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// errInvalidClaims is returned when a token parses and verifies but its
// claims don't carry a usable subject.
var errInvalidClaims = errors.New("token claims missing or invalid")

// dashboardContextKey namespaces context keys set by dashboard auth.
type dashboardContextKey string

const (
	dashboardUserIDKey dashboardContextKey = "dashboard_user_id"
	dashboardRoleKey   dashboardContextKey = "dashboard_role"
)

// jwtTokenTTL is the lifetime of a dashboard bearer token.
const jwtTokenTTL = 12 * time.Hour

// DashboardClaims holds the JWT claims for dashboard and supervisor console
// authentication.
type DashboardClaims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateDashboardToken creates a signed JWT for a dashboard session. The
// caller is expected to have already authenticated the user by some
// external means (the engine itself holds no passwords); this only mints
// the bearer token that subsequent API and websocket calls present.
func GenerateDashboardToken(secret []byte, userID int64, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(jwtTokenTTL)

	claims := DashboardClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "voxdialer",
			Subject:   role,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseDashboardToken validates a raw dashboard JWT string and returns its
// claims. Shared by the Authorization-header middleware below and by the
// websocket upgrade path, which cannot set a request header during the
// browser's handshake and so receives the token as a query parameter
// instead.
func ParseDashboardToken(secret []byte, tokenString string) (*DashboardClaims, error) {
	claims := &DashboardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errInvalidClaims
	}
	return claims, nil
}

// RequireDashboardAuth returns middleware that validates JWT bearer tokens
// for dashboard endpoints. On success it stores the user ID and role in
// the request context.
func RequireDashboardAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJWTError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJWTError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := ParseDashboardToken(secret, parts[1])
			if err != nil {
				slog.Debug("dashboard auth: invalid jwt", "error", err)
				writeJWTError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), dashboardUserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, dashboardRoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DashboardUserFromContext retrieves the authenticated user ID and role
// from the request context. ok is false if no dashboard auth ran.
func DashboardUserFromContext(ctx context.Context) (userID int64, role string, ok bool) {
	userID, idOK := ctx.Value(dashboardUserIDKey).(int64)
	role, roleOK := ctx.Value(dashboardRoleKey).(string)
	return userID, role, idOK && roleOK
}

// writeJWTError writes a JSON error matching the api package's envelope format.
func writeJWTError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Error: msg}) //nolint:errcheck
}
