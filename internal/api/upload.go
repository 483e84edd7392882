package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/attachments"
	"gearhead-backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type UploadHandler struct {
	backend  Backend
	maxBytes int64
	logger   zerolog.Logger
}

func NewUploadHandler(backend Backend, maxBytes int64, logger zerolog.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = attachments.DefaultMaxBytes
	}
	return &UploadHandler{
		backend:  backend,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "upload_api").Logger(),
	}
}

// UploadFiles handles multipart uploads of chat and listing attachments.
// Files go in "files" (or a single "file"); "bucket" and "folder" pick
// the destination.
func (h *UploadHandler) UploadFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.KindValidation, "api.upload", "multipart form expected"))
		return
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		respondError(c, apperr.New(apperr.KindValidation, "api.upload", "No file provided"))
		return
	}

	files := make([]attachments.File, 0, len(headers))
	for _, fh := range headers {
		f, err := h.readFile(fh)
		if err != nil {
			respondError(c, err)
			return
		}
		files = append(files, f)
	}

	target := attachments.Target{
		BucketKey: strings.TrimSpace(c.PostForm("bucket")),
		Folder:    strings.TrimSpace(c.PostForm("folder")),
	}
	batch := h.backend.Attachments(session(c)).UploadAll(c.Request.Context(), session(c), files, target, nil)

	if len(batch.Results) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "No files were uploaded",
			"kind":     apperr.KindValidation.String(),
			"progress": batch.Progress,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files":    batch.Results,
		"urls":     batch.URLs(),
		"progress": batch.Progress,
	})
}

// readFile reads at most one byte past the limit, so oversize files are
// still reported by validation without being held whole.
func (h *UploadHandler) readFile(fh *multipart.FileHeader) (attachments.File, error) {
	src, err := fh.Open()
	if err != nil {
		return attachments.File{}, apperr.Wrap(err, apperr.KindValidation, "api.upload", "unreadable file "+fh.Filename)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		return attachments.File{}, apperr.Wrap(err, apperr.KindValidation, "api.upload", "unreadable file "+fh.Filename)
	}
	return attachments.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// DeleteFile removes an uploaded object by its URL.
func (h *UploadHandler) DeleteFile(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		var req struct {
			URL string `json:"url" binding:"required" conform:"trim"`
		}
		if err := bind(c, &req); err != nil {
			respondError(c, err)
			return
		}
		raw = req.URL
	}

	if err := h.backend.Attachments(session(c)).DeleteByURL(c.Request.Context(), raw); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SignedUpload issues a one-time upload token for bucket/file_name with
// the service credentials.
func (h *UploadHandler) SignedUpload(c *gin.Context) {
	var req storage.SignedUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.FileName) == "" {
		respondError(c, apperr.New(apperr.KindValidation, "api.signed_upload", "bucket and file_name required"))
		return
	}
	bucket := strings.TrimSpace(req.Bucket)
	objectPath, ok := cleanObjectPath(req.FileName)
	if !ok {
		respondError(c, apperr.New(apperr.KindValidation, "api.signed_upload", "invalid file_name"))
		return
	}

	ctx := c.Request.Context()
	issuer := h.backend.Uploads()
	exists, err := issuer.BucketExists(ctx, bucket)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, apperr.New(apperr.KindNotFound, "api.signed_upload", fmt.Sprintf("Bucket '%s' not found", bucket)))
		return
	}

	ticket, err := issuer.CreateSignedUpload(ctx, bucket, objectPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, storage.SignedUploadResponse{Path: ticket.Path, Token: ticket.Token})
}

func cleanObjectPath(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", false
		}
	}
	p := strings.TrimPrefix(path.Clean("/"+name), "/")
	if p == "" || p == "." {
		return "", false
	}
	return p, true
}
