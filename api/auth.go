package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/reconcile-engine/generic"
)

// Claims is the bearer token payload. The subject is the employee ID.
type Claims struct {
	Capabilities []string `json:"caps"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// Authenticator turns HS256 bearer tokens into a generic.Actor on the request
// context. Tokens are issued elsewhere; IssueToken exists for tests and local
// tooling.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// ParseToken validates the signature and expiry and returns the actor.
func (a *Authenticator) ParseToken(tokenString string) (generic.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return generic.Actor{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return generic.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return generic.Actor{}, errors.New("token has no subject")
	}

	caps := make([]generic.Capability, 0, len(claims.Capabilities))
	for _, c := range claims.Capabilities {
		caps = append(caps, generic.Capability(c))
	}
	return generic.NewActor(generic.EmployeeID(claims.Subject), caps...), nil
}

// IssueToken signs a token for actor valid for ttl.
func (a *Authenticator) IssueToken(actor generic.Actor, ttl time.Duration) (string, error) {
	caps := make([]string, 0, len(actor.Capabilities))
	for _, c := range actor.Capabilities {
		caps = append(caps, string(c))
	}
	now := time.Now()
	claims := Claims{
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		actor, err := a.ParseToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the authenticated actor, or a zero actor holding no
// capabilities.
func ActorFrom(ctx context.Context) generic.Actor {
	actor, _ := ctx.Value(actorKey{}).(generic.Actor)
	return actor
}
