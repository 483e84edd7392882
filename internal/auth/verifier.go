package auth

import (
	"context"
	"errors"
	"strings"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/supabase"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of a Supabase access token the gateway reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Remote resolves a token by asking the auth server.
type Remote interface {
	Lookup(ctx context.Context, token string) (Session, error)
}

type RemoteFunc func(ctx context.Context, token string) (Session, error)

func (f RemoteFunc) Lookup(ctx context.Context, token string) (Session, error) {
	return f(ctx, token)
}

// SupabaseRemote looks tokens up with GET /auth/v1/user.
func SupabaseRemote(client *supabase.Client) RemoteFunc {
	return func(ctx context.Context, token string) (Session, error) {
		user, err := client.WithAccessToken(token).GetUser(ctx)
		if err != nil {
			return Session{}, err
		}
		return Session{UserID: user.ID, Email: user.Email, AccessToken: token}, nil
	}
}

// Verifier turns a bearer token into a Session. With a project JWT secret
// tokens are checked locally; otherwise, or when the local check cannot
// decide, the remote lookup is used.
type Verifier struct {
	secret []byte
	remote Remote
}

func NewVerifier(secret string, remote Remote) *Verifier {
	v := &Verifier{remote: remote}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

func (v *Verifier) Verify(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "missing access token")
	}

	if v.secret != nil {
		claims, err := v.parse(token)
		if err == nil {
			return Session{UserID: claims.Subject, Email: claims.Email, AccessToken: token}, nil
		}
		// An expired or forged token is final. Anything else, such as a
		// token signed with an asymmetric project key, goes to the server.
		if apperr.IsKind(err, apperr.KindNotAuthenticated) {
			return Session{}, err
		}
		if v.remote == nil {
			return Session{}, apperr.Wrap(err, apperr.KindNotAuthenticated, "auth.verify", "invalid access token")
		}
	}

	if v.remote == nil {
		return Session{}, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "no verifier configured")
	}
	s, err := v.remote.Lookup(ctx, token)
	if err != nil {
		if apperr.IsKind(err, apperr.KindTransient) {
			return Session{}, err
		}
		return Session{}, apperr.Wrap(err, apperr.KindNotAuthenticated, "auth.verify", "invalid access token")
	}
	if s.UserID == "" {
		return Session{}, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "token has no subject")
	}
	s.AccessToken = token
	return s, nil
}

func (v *Verifier) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, apperr.Wrap(err, apperr.KindInternal, "auth.verify", "token not verifiable locally")
		}
		return nil, apperr.Wrap(err, apperr.KindNotAuthenticated, "auth.verify", "invalid access token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "invalid access token")
	}
	if claims.Role == "anon" {
		return nil, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "anonymous token")
	}
	return claims, nil
}
