package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"gearhead-backend/internal/apperr"

	"github.com/pkg/errors"
)

// EndpointIssuer requests upload tickets from the signed-upload endpoint,
// which holds the service credentials.
type EndpointIssuer struct {
	endpoint string
	apiKey   string
	token    string
	http     *http.Client
}

func NewEndpointIssuer(endpoint, anonKey string, httpClient *http.Client) *EndpointIssuer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &EndpointIssuer{endpoint: endpoint, apiKey: anonKey, http: httpClient}
}

func (e *EndpointIssuer) WithAccessToken(token string) *EndpointIssuer {
	cp := *e
	cp.token = token
	return &cp
}

type SignedUploadRequest struct {
	Bucket   string `json:"bucket" binding:"required" conform:"trim"`
	FileName string `json:"file_name" binding:"required" conform:"trim"`
}

type SignedUploadResponse struct {
	Path  string `json:"path"`
	Token string `json:"token"`
}

func (e *EndpointIssuer) CreateSignedUpload(ctx context.Context, bucket, path string) (*UploadTicket, error) {
	const op = "storage.issue_ticket"
	if e.endpoint == "" {
		return nil, apperr.New(apperr.KindFeatureUnavailable, op, "signed upload endpoint not configured")
	}

	payload, _ := json.Marshal(SignedUploadRequest{Bucket: bucket, FileName: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, op, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("apikey", e.apiKey)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(errors.Wrap(err, op), apperr.KindTransient, op, "signed upload endpoint unreachable")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, storageError(op, resp.StatusCode, raw)
	}

	var out SignedUploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, op, "unexpected signed upload response")
	}
	if out.Token == "" {
		return nil, apperr.New(apperr.KindInternal, op, "signed upload response has no token")
	}
	if out.Path == "" {
		out.Path = path
	}
	return &UploadTicket{Bucket: bucket, Path: out.Path, Token: out.Token}, nil
}
