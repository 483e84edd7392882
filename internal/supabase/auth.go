package supabase

import (
	"context"
	"net/http"
	"net/url"

	"gearhead-backend/internal/apperr"
)

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

type SignInResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	var out SignInResponse
	_, err := c.do(ctx, request{
		op:     "auth.sign_in",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body: map[string]string{
			"email":    email,
			"password": password,
		},
	}, &out)
	if err != nil {
		// GoTrue answers bad credentials with 400
		if apperr.IsKind(err, apperr.KindValidation) {
			return nil, apperr.Wrap(err, apperr.KindNotAuthenticated, "auth.sign_in", "invalid credentials")
		}
		return nil, err
	}
	return &out, nil
}

// GetUser resolves the user owning the client's access token.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	if c.token == "" {
		return nil, apperr.New(apperr.KindNotAuthenticated, "auth.get_user", "no access token")
	}
	var out User
	if _, err := c.do(ctx, request{
		op:     "auth.get_user",
		method: http.MethodGet,
		path:   "/auth/v1/user",
	}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperr.New(apperr.KindNotAuthenticated, "auth.get_user", "token has no subject")
	}
	return &out, nil
}

// AdminCreateUser creates a confirmed user. Requires the service role key.
func (c *Client) AdminCreateUser(ctx context.Context, email, password string, userMetadata map[string]interface{}) (*User, error) {
	if !c.HasServiceRole() {
		return nil, apperr.New(apperr.KindPermissionDenied, "auth.admin_create_user", "service role key not configured")
	}
	var out User
	_, err := c.AsServiceRole().do(ctx, request{
		op:     "auth.admin_create_user",
		method: http.MethodPost,
		path:   "/auth/v1/admin/users",
		body: map[string]interface{}{
			"email":         email,
			"password":      password,
			"email_confirm": true,
			"user_metadata": userMetadata,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
