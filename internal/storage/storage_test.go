package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectURL(t *testing.T) {
	cases := map[string]ObjectLocation{
		"https://p.supabase.co/storage/v1/object/public/marketplace-media/listings/u1/1-abc.jpg":          {Bucket: "marketplace-media", Path: "listings/u1/1-abc.jpg"},
		"https://p.supabase.co/storage/v1/object/sign/community-media/posts/u1/1-abc.png?token=xyz":      {Bucket: "community-media", Path: "posts/u1/1-abc.png"},
		"https://p.supabase.co/storage/v1/object/authenticated/profile-media/avatars/u1/1.webp":          {Bucket: "profile-media", Path: "avatars/u1/1.webp"},
		"http://localhost:54321/storage/v1/object/garage-media/garages/u2/1700000000000-k3j4.gif":        {Bucket: "garage-media", Path: "garages/u2/1700000000000-k3j4.gif"},
	}
	for raw, want := range cases {
		got, ok := ParseObjectURL(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"https://cdn.example.com/a/b.jpg", "https://p.supabase.co/storage/v1/object/public/bucket-only", "::"} {
		_, ok := ParseObjectURL(raw)
		assert.False(t, ok, raw)
	}
}

func TestSupabaseDirectUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/chat/attachments/u1/1-a.jpg", r.URL.Path)
		assert.Equal(t, "Bearer user", r.Header.Get("Authorization"))
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "false", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "data", string(body))
		_, _ = w.Write([]byte(`{"Key":"chat/attachments/u1/1-a.jpg"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "anon", "service", srv.Client()).WithAccessToken("user")
	require.NoError(t, s.Upload(context.Background(), "chat", "attachments/u1/1-a.jpg", []byte("data"), "image/jpeg"))
}

func TestSupabaseSignedUploadRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/upload/sign/chat/a/u1/x.png":
			_, _ = w.Write([]byte(`{"url":"/object/upload/sign/chat/a/u1/x.png?token=tkn"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/storage/v1/object/upload/sign/chat/a/u1/x.png":
			assert.Equal(t, "tkn", r.URL.Query().Get("token"))
			_, _ = w.Write([]byte(`{"Key":"chat/a/u1/x.png"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "anon", "service", srv.Client())
	ticket, err := s.AsServiceRole().CreateSignedUpload(context.Background(), "chat", "a/u1/x.png")
	require.NoError(t, err)
	assert.Equal(t, "tkn", ticket.Token)
	assert.Equal(t, srv.URL+"/storage/v1/object/upload/sign/chat/a/u1/x.png?token=tkn", ticket.SignedURL)

	require.NoError(t, s.UploadWithTicket(context.Background(), *ticket, []byte("png"), "image/png"))
}

func TestSupabaseSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/sign/chat/a.jpg", r.URL.Path)
		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(604800), body["expiresIn"])
		_, _ = w.Write([]byte(`{"signedURL":"/object/sign/chat/a.jpg?token=abc"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "anon", "", srv.Client())
	u, err := s.SignedURL(context.Background(), "chat", "a.jpg", 604800*time.Second)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/sign/chat/a.jpg?token=abc", u)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/chat/a.jpg", s.PublicURL("chat", "a.jpg"))
}

func TestSupabaseBucketExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bucket/present") {
			_, _ = w.Write([]byte(`{"id":"present","name":"present"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"404","error":"Bucket not found","message":"Bucket not found"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "anon", "service", srv.Client()).AsServiceRole()
	ok, err := s.BucketExists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.BucketExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSupabaseUploadForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"403","error":"Unauthorized","message":"new row violates row-level security policy"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "anon", "", srv.Client())
	err := s.Upload(context.Background(), "chat", "a.jpg", []byte("x"), "image/jpeg")
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))
}

func TestEndpointIssuer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user", r.Header.Get("Authorization"))
		var req SignedUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat", req.Bucket)
		assert.Equal(t, "a/u1/x.jpg", req.FileName)
		_ = json.NewEncoder(w).Encode(SignedUploadResponse{Path: req.FileName, Token: "tok"})
	}))
	defer srv.Close()

	issuer := NewEndpointIssuer(srv.URL, "anon", srv.Client()).WithAccessToken("user")
	ticket, err := issuer.CreateSignedUpload(context.Background(), "chat", "a/u1/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, UploadTicket{Bucket: "chat", Path: "a/u1/x.jpg", Token: "tok"}, *ticket)
}

func TestEndpointIssuerUnconfigured(t *testing.T) {
	_, err := NewEndpointIssuer("", "anon", nil).CreateSignedUpload(context.Background(), "chat", "x")
	assert.True(t, apperr.IsKind(err, apperr.KindFeatureUnavailable))
}

func TestS3PresignedURLs(t *testing.T) {
	s, err := NewS3Storage(context.Background(), config.StorageConfig{
		S3Endpoint:  "http://localhost:9000",
		S3Region:    "us-east-1",
		S3AccessKey: "key",
		S3SecretKey: "secret",
	}, "https://p.supabase.co")
	require.NoError(t, err)

	u, err := s.SignedURL(context.Background(), "chat", "a/u1/x.jpg", 604800*time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/chat/a/u1/x.jpg?"), u)
	assert.Contains(t, u, "X-Amz-Expires=604800")

	ticket, err := s.CreateSignedUpload(context.Background(), "chat", "a/u1/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, ticket.Token, ticket.SignedURL)

	assert.Equal(t, "https://p.supabase.co/storage/v1/object/public/chat/a/u1/x.jpg", s.PublicURL("chat", "a/u1/x.jpg"))
}
