package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/supabase"

	"github.com/pkg/errors"
)

type SupabaseStorage struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string

	apiKey string
	token  string
	http   *http.Client
}

func NewSupabaseStorage(url, anonKey, serviceRoleKey string, httpClient *http.Client) *SupabaseStorage {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &SupabaseStorage{
		URL:            strings.TrimRight(url, "/"),
		AnonKey:        anonKey,
		ServiceRoleKey: serviceRoleKey,
		apiKey:         anonKey,
		http:           httpClient,
	}
}

// WithAccessToken returns a copy acting as the signed-in user.
func (s *SupabaseStorage) WithAccessToken(token string) *SupabaseStorage {
	cp := *s
	cp.apiKey = s.AnonKey
	cp.token = token
	return &cp
}

func (s *SupabaseStorage) AsServiceRole() *SupabaseStorage {
	cp := *s
	cp.apiKey = s.ServiceRoleKey
	cp.token = s.ServiceRoleKey
	return &cp
}

func (s *SupabaseStorage) objectURL(kind, bucket, path string) string {
	if kind == "" {
		return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.URL, bucket, escapePath(path))
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s/%s", s.URL, kind, bucket, escapePath(path))
}

func (s *SupabaseStorage) send(ctx context.Context, op, method, u string, body io.Reader, header http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, op, "failed to create request")
	}
	req.Header.Set("apikey", s.apiKey)
	bearer := s.token
	if bearer == "" {
		bearer = s.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return apperr.Wrap(errors.Wrap(err, op), apperr.KindTransient, op, "storage unreachable")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return storageError(op, resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Wrap(err, apperr.KindInternal, op, "unexpected storage response")
		}
	}
	return nil
}

// storageError classifies Storage API failures. Storage reports the real
// status in the body's statusCode field, often behind a 400.
func storageError(op string, status int, body []byte) error {
	e := supabase.ParseError(status, body)
	var aux struct {
		StatusCode string `json:"statusCode"`
	}
	if json.Unmarshal(body, &aux) == nil {
		if n, err := strconv.Atoi(aux.StatusCode); err == nil {
			status = n
		}
	}

	kind := apperr.KindInternal
	switch {
	case status == http.StatusUnauthorized:
		kind = apperr.KindNotAuthenticated
	case status == http.StatusForbidden:
		kind = apperr.KindPermissionDenied
	case status == http.StatusNotFound:
		kind = apperr.KindNotFound
	case status == http.StatusConflict:
		kind = apperr.KindConflict
	case status == http.StatusRequestEntityTooLarge, status == http.StatusBadRequest:
		kind = apperr.KindValidation
	case status == http.StatusTooManyRequests, status >= 500:
		kind = apperr.KindTransient
	}
	return apperr.Wrap(e, kind, op, e.Message)
}

func uploadHeaders(contentType string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "max-age=3600")
	h.Set("x-upsert", "false")
	return h
}

// Upload stores body at bucket/path using the client's credentials.
func (s *SupabaseStorage) Upload(ctx context.Context, bucket, path string, body []byte, contentType string) error {
	return s.send(ctx, "storage.upload", http.MethodPost, s.objectURL("", bucket, path), bytes.NewReader(body), uploadHeaders(contentType), nil)
}

// CreateSignedUpload issues a token allowing one upload to bucket/path.
func (s *SupabaseStorage) CreateSignedUpload(ctx context.Context, bucket, path string) (*UploadTicket, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := s.send(ctx, "storage.create_signed_upload", http.MethodPost, s.objectURL("upload/sign", bucket, path), nil, nil, &out); err != nil {
		return nil, err
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "storage.create_signed_upload", "bad signed upload url")
	}
	token := u.Query().Get("token")
	if token == "" {
		return nil, apperr.New(apperr.KindInternal, "storage.create_signed_upload", "signed upload url has no token")
	}
	return &UploadTicket{
		Bucket:    bucket,
		Path:      path,
		Token:     token,
		SignedURL: s.URL + "/storage/v1" + out.URL,
	}, nil
}

// UploadWithTicket uploads body using a previously issued ticket.
func (s *SupabaseStorage) UploadWithTicket(ctx context.Context, t UploadTicket, body []byte, contentType string) error {
	u := s.objectURL("upload/sign", t.Bucket, t.Path) + "?token=" + url.QueryEscape(t.Token)
	return s.send(ctx, "storage.upload_signed", http.MethodPut, u, bytes.NewReader(body), uploadHeaders(contentType), nil)
}

// SignedURL returns a time-limited download URL.
func (s *SupabaseStorage) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	payload, _ := json.Marshal(map[string]int64{"expiresIn": int64(ttl / time.Second)})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := s.send(ctx, "storage.sign", http.MethodPost, s.objectURL("sign", bucket, path), bytes.NewReader(payload), h, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", apperr.New(apperr.KindInternal, "storage.sign", "empty signed url")
	}
	return s.URL + "/storage/v1" + out.SignedURL, nil
}

func (s *SupabaseStorage) PublicURL(bucket, path string) string {
	return s.objectURL("public", bucket, path)
}

func (s *SupabaseStorage) Delete(ctx context.Context, bucket, path string) error {
	return s.send(ctx, "storage.delete", http.MethodDelete, s.objectURL("", bucket, path), nil, nil, nil)
}

func (s *SupabaseStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	u := fmt.Sprintf("%s/storage/v1/bucket/%s", s.URL, url.PathEscape(bucket))
	err := s.send(ctx, "storage.get_bucket", http.MethodGet, u, nil, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case apperr.IsKind(err, apperr.KindNotFound):
		return false, nil
	}
	return false, err
}
