package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/marketplace/internal/models"
	"github.com/spf13/viper"
)

type contextKey string

const callerKey contextKey = "caller"

var (
	authDB    *sql.DB
	authRedis *redis.Client
)

// InitAuthMiddleware wires the user store and the optional token blacklist
func InitAuthMiddleware(db *sql.DB, redisClient *redis.Client) {
	authDB = db
	authRedis = redisClient
}

// BlacklistKey is the redis key marking a logged out token
func BlacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

// WithCaller stores the authenticated identity on ctx
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func CallerFromContext(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(models.Caller)
	return caller, ok
}

// AuthMiddleware validates the bearer token, loads the caller's role and blocked flag,
// and rejects blocked accounts before any handler runs.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if authRedis != nil {
			revoked, err := authRedis.Exists(r.Context(), BlacklistKey(token)).Result()
			if err != nil {
				log.Printf("[AUTH] Blacklist lookup failed, continuing: %v", err)
			} else if revoked > 0 {
				writeError(w, "Token has been revoked", http.StatusUnauthorized)
				return
			}
		}

		userID, err := validateToken(token)
		if err != nil {
			writeError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		caller, err := loadCaller(r.Context(), userID)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, "User not found", http.StatusUnauthorized)
			return
		}
		if err != nil {
			log.Printf("[AUTH] Failed to load caller %s: %v", userID, err)
			writeError(w, "Failed to authenticate", http.StatusServiceUnavailable)
			return
		}

		if caller.IsBlocked {
			writeError(w, "Your account has been blocked. Contact an administrator.", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireRole lets only callers holding one of roles through
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, "Access denied: insufficient privileges", http.StatusForbidden)
		})
	}
}

func loadCaller(ctx context.Context, userID string) (models.Caller, error) {
	if authDB == nil {
		return models.Caller{}, errors.New("auth middleware not initialized")
	}

	var (
		caller models.Caller
		role   string
	)
	err := authDB.QueryRowContext(ctx, `SELECT id, role, is_blocked FROM users WHERE id = $1`, userID).
		Scan(&caller.UserID, &role, &caller.IsBlocked)
	caller.Role = models.Role(role)
	return caller, err
}

func validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("token carries no user_id")
	}
	return userID, nil
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
