package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/nav-engine/common"
)

// Authenticator verifies HS256 bearer tokens and puts the caller in the
// request context.
type Authenticator struct {
	secret []byte
	logger *common.Logger
}

func NewAuthenticator(secret string, logger *common.Logger) *Authenticator {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Authenticator{secret: []byte(secret), logger: logger.Component("auth")}
}

// Sign issues a token for userID. An empty role issues a plain user token.
func (a *Authenticator) Sign(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireUser rejects requests without a valid bearer token.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, "Access denied. Invalid token.")
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserContext(r.Context(), uc)))
	})
}

// RequireOperator must run after RequireUser.
func (a *Authenticator) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !common.UserContextFromContext(r.Context()).IsOperator() {
			writeError(w, http.StatusForbidden, "Operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*common.UserContext, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	userID := claimString(claims, "sub")
	if userID == "" {
		userID = claimString(claims, "userId")
	}
	if userID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &common.UserContext{UserID: userID, Role: claimString(claims, "role")}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
