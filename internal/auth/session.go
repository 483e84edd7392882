package auth

import "context"

// Session identifies the signed-in caller. It is built once per request
// and handed to services at construction.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
