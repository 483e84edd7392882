package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/config"

	"github.com/pkg/errors"
)

// Client talks to one Supabase project. A zero access token means the
// anon key is sent as the bearer; WithAccessToken scopes the client to
// a signed-in user so row-level security applies.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	apiKey     string
	token      string
	http       *http.Client
}

type SupabaseError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *SupabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error (status %d): %s", e.StatusCode, e.Message)
}

func NewClient(cfg config.SupabaseConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceRoleKey,
		apiKey:     cfg.AnonKey,
		http:       httpClient,
	}
}

// WithAccessToken returns a copy that acts as the user owning token.
func (c *Client) WithAccessToken(token string) *Client {
	cp := *c
	cp.apiKey = c.anonKey
	cp.token = token
	return &cp
}

// AsServiceRole returns a copy that bypasses row-level security.
func (c *Client) AsServiceRole() *Client {
	cp := *c
	cp.apiKey = c.serviceKey
	cp.token = c.serviceKey
	return &cp
}

func (c *Client) HasServiceRole() bool {
	return c.serviceKey != ""
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) AccessToken() string {
	return c.token
}

type request struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    interface{}
	headers map[string]string
}

// do sends r and decodes a 2xx JSON body into out. Non-2xx responses are
// classified into apperr kinds.
func (c *Client) do(ctx context.Context, r request, out interface{}) (http.Header, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInternal, r.op, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, r.op, "build request")
	}
	req.Header.Set("apikey", c.apiKey)
	bearer := c.token
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(ctx.Err(), apperr.KindTransient, r.op, "request cancelled")
		}
		return nil, apperr.Wrap(errors.Wrapf(err, "%s %s", r.method, r.path), apperr.KindTransient, r.op, "backend unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, apperr.Wrap(errors.Wrap(err, "read response"), apperr.KindTransient, r.op, "backend unreachable")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, classify(r.op, resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, apperr.Wrap(errors.Wrap(err, "decode response"), apperr.KindInternal, r.op, "unexpected response")
		}
	}
	return resp.Header, nil
}

// ParseError decodes the error body shapes used by PostgREST, GoTrue and
// Storage into a SupabaseError.
func ParseError(status int, body []byte) *SupabaseError {
	var raw struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Details          json.RawMessage `json:"details"`
		Hint             string          `json:"hint"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	e := &SupabaseError{StatusCode: status}
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}

	var code string
	if len(raw.Code) > 0 && json.Unmarshal(raw.Code, &code) != nil {
		code = string(raw.Code)
	}
	e.Code = code
	if raw.ErrorCode != "" {
		e.Code = raw.ErrorCode
	}

	switch {
	case raw.Message != "":
		e.Message = raw.Message
	case raw.Msg != "":
		e.Message = raw.Msg
	case raw.ErrorDescription != "":
		e.Message = raw.ErrorDescription
	case raw.Error != "":
		e.Message = raw.Error
	default:
		e.Message = http.StatusText(status)
	}
	var details string
	if len(raw.Details) > 0 && json.Unmarshal(raw.Details, &details) != nil {
		details = string(raw.Details)
	}
	e.Details = details
	e.Hint = raw.Hint
	return e
}

// LockedSQLState is raised by the messages insert trigger when the linked
// bid does not permit messaging.
const LockedSQLState = "ML001"

func classify(op string, status int, body []byte) error {
	e := ParseError(status, body)
	kind := kindFor(status, e.Code)
	msg := e.Message
	if kind == apperr.KindMessagingLocked {
		msg = "locked"
	}
	return apperr.Wrap(e, kind, op, msg)
}

func kindFor(status int, code string) apperr.Kind {
	switch code {
	case LockedSQLState:
		return apperr.KindMessagingLocked
	case "42501":
		return apperr.KindPermissionDenied
	case "42P01", "42883", "PGRST200", "PGRST202", "PGRST205":
		return apperr.KindFeatureUnavailable
	case "23505":
		return apperr.KindConflict
	case "PGRST116":
		return apperr.KindNotFound
	case "PGRST301", "PGRST302":
		return apperr.KindNotAuthenticated
	case "22P02", "23502", "23514", "PGRST100":
		return apperr.KindValidation
	}

	switch {
	case status == http.StatusUnauthorized:
		return apperr.KindNotAuthenticated
	case status == http.StatusForbidden:
		return apperr.KindPermissionDenied
	case status == http.StatusNotFound:
		return apperr.KindNotFound
	case status == http.StatusConflict:
		return apperr.KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperr.KindValidation
	case status == http.StatusTooManyRequests, status >= 500:
		return apperr.KindTransient
	}
	return apperr.KindInternal
}
