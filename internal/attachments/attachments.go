// Package attachments turns user files into stored objects with fetchable
// URLs: validation, image compression, placement, upload and cleanup.
package attachments

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/storage"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxBytes     = 10 * 1024 * 1024
	DefaultMaxWidth     = 1920
	DefaultMaxPixels    = 40_000_000
	DefaultQuality      = 80
	DefaultSignedURLTTL = 7 * 24 * time.Hour

	maxConcurrentUploads = 3
)

var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

// ObjectStore is the storage surface the pipeline needs. Both storage
// backends and the in-memory store satisfy it.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, body []byte, contentType string) error
	UploadWithTicket(ctx context.Context, t storage.UploadTicket, body []byte, contentType string) error
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	PublicURL(bucket, path string) string
	Delete(ctx context.Context, bucket, path string) error
}

// TicketIssuer hands out single-use upload tickets.
type TicketIssuer interface {
	CreateSignedUpload(ctx context.Context, bucket, path string) (*storage.UploadTicket, error)
}

type Limits struct {
	MaxBytes     int64
	MaxWidth     int
	MaxPixels    int // width*height bound for images that get decoded
	Quality      int
	SignedURLTTL time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxWidth <= 0 {
		l.MaxWidth = DefaultMaxWidth
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	if l.Quality <= 0 || l.Quality > 100 {
		l.Quality = DefaultQuality
	}
	if l.SignedURLTTL <= 0 {
		l.SignedURLTTL = DefaultSignedURLTTL
	}
	return l
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Result struct {
	URL           string `json:"url"`
	Bucket        string `json:"bucket"`
	Path          string `json:"path"`
	ContentType   string `json:"content_type"`
	Size          int    `json:"size"`
	ProcessedSize int    `json:"processed_size"`
	// Signed is false when the URL is the public fallback.
	Signed bool `json:"signed"`
}

type Pipeline struct {
	store  ObjectStore
	issuer TicketIssuer
	limits Limits
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline. A nil issuer skips the signed upload path.
func New(store ObjectStore, issuer TicketIssuer, limits Limits, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		issuer: issuer,
		limits: limits.withDefaults(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "attachments").Logger()
	return p
}

// Validate checks type and size and returns the effective content type.
// It never touches the network.
func (p *Pipeline) Validate(f File) (string, error) {
	const op = "attachments.validate"
	if len(f.Data) == 0 {
		return "", apperr.New(apperr.KindValidation, op, "file is empty")
	}
	if int64(len(f.Data)) > p.limits.MaxBytes {
		return "", apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("file size exceeds %dMB limit", p.limits.MaxBytes/(1024*1024)))
	}
	ctype := baseType(f.ContentType)
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = baseType(mimetype.Detect(f.Data).String())
	}
	if ctype == "image/jpg" {
		ctype = "image/jpeg"
	}
	if !allowedTypes[ctype] {
		return "", apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("file type not allowed: %s. Allowed: JPEG, PNG, WebP, GIF, MP4, WebM, QuickTime", ctype))
	}
	return ctype, nil
}

func baseType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Compress re-encodes JPEG and PNG images no wider than the configured
// maximum. Other types are returned unchanged. Images whose header declares
// more than MaxPixels are rejected before any pixel is decoded.
func (p *Pipeline) Compress(data []byte, contentType string) ([]byte, error) {
	const op = "attachments.compress"
	var format imaging.Format
	var opts []imaging.EncodeOption
	switch contentType {
	case "image/jpeg":
		format = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(p.limits.Quality))
	case "image/png":
		format = imaging.PNG
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, op, "image could not be decoded")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.limits.MaxPixels) {
		return nil, apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("image dimensions %dx%d exceed the %d megapixel limit", cfg.Width, cfg.Height, p.limits.MaxPixels/1_000_000))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, op, "image could not be decoded")
	}
	if img.Bounds().Dx() > p.limits.MaxWidth {
		img = imaging.Resize(img, p.limits.MaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, op, "image could not be encoded")
	}
	return buf.Bytes(), nil
}

// ObjectPath builds {folder}/{userID}/{unixmillis}-{random}.{ext}.
func (p *Pipeline) ObjectPath(target Target, userID, fileName, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		if m := mimetype.Lookup(contentType); m != nil {
			ext = strings.TrimPrefix(m.Extension(), ".")
		}
	}
	if ext == "" {
		ext = "bin"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s/%s/%d-%s.%s", target.PathFolder(), userID, p.now().UnixMilli(), random, ext)
}

// Upload validates, compresses, stores and resolves one file.
func (p *Pipeline) Upload(ctx context.Context, session auth.Session, f File, target Target) (*Result, error) {
	const op = "attachments.upload"
	if !session.Authenticated() {
		return nil, apperr.New(apperr.KindNotAuthenticated, op, "user not authenticated")
	}
	ctype, err := p.Validate(f)
	if err != nil {
		return nil, err
	}
	body, err := p.Compress(f.Data, ctype)
	if err != nil {
		return nil, err
	}

	bucket := target.Bucket()
	path := p.ObjectPath(target, session.UserID, f.Name, ctype)
	log := p.logger.With().Str("bucket", bucket).Str("path", path).Logger()

	if err := p.signedUpload(ctx, bucket, path, body, ctype); err != nil {
		log.Warn().Err(err).Msg("signed upload failed, uploading directly")
		if err := p.store.Upload(ctx, bucket, path, body, ctype); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Bucket:        bucket,
		Path:          path,
		ContentType:   ctype,
		Size:          len(f.Data),
		ProcessedSize: len(body),
	}
	url, err := p.store.SignedURL(ctx, bucket, path, p.limits.SignedURLTTL)
	if err != nil {
		log.Warn().Err(err).Msg("signing failed, using public url")
		res.URL = p.store.PublicURL(bucket, path)
	} else {
		res.URL = url
		res.Signed = true
	}
	return res, nil
}

func (p *Pipeline) signedUpload(ctx context.Context, bucket, path string, body []byte, ctype string) error {
	if p.issuer == nil {
		return apperr.New(apperr.KindFeatureUnavailable, "attachments.signed_upload", "no upload ticket issuer")
	}
	ticket, err := p.issuer.CreateSignedUpload(ctx, bucket, path)
	if err != nil {
		return err
	}
	if ticket == nil || (ticket.Token == "" && ticket.SignedURL == "") {
		return apperr.New(apperr.KindTransient, "attachments.signed_upload", "no signed token returned")
	}
	return p.store.UploadWithTicket(ctx, *ticket, body, ctype)
}

// Batch is the outcome of UploadAll. Results and Progress follow input
// order; Results holds successes only.
type Batch struct {
	Results  []Result                `json:"results"`
	Progress []models.UploadProgress `json:"progress"`
}

func (b *Batch) URLs() []string {
	urls := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		urls = append(urls, r.URL)
	}
	return urls
}

// UploadAll uploads files with bounded concurrency. onProgress, when set,
// is called for every state change and may be called concurrently.
func (p *Pipeline) UploadAll(ctx context.Context, session auth.Session, files []File, target Target, onProgress func(models.UploadProgress)) *Batch {
	progress := make([]models.UploadProgress, len(files))
	results := make([]*Result, len(files))
	report := func(pr models.UploadProgress) {
		if onProgress != nil {
			onProgress(pr)
		}
	}

	sem := make(chan struct{}, maxConcurrentUploads)
	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			f := files[i]
			pr := models.UploadProgress{FileName: f.Name, Status: models.UploadStatusUploading}
			report(pr)

			res, err := p.Upload(ctx, session, f, target)
			if err != nil {
				pr.Status = models.UploadStatusError
				pr.Error = apperr.Message(err)
				p.logger.Error().Err(err).Str("file", f.Name).Msg("upload failed")
			} else {
				pr.Status = models.UploadStatusComplete
				pr.Progress = 100
				pr.URL = res.URL
				results[i] = res
			}
			progress[i] = pr
			report(pr)
		}(i)
	}
	wg.Wait()

	batch := &Batch{Progress: progress, Results: []Result{}}
	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, *r)
		}
	}
	return batch
}

// DeleteByURL removes the object a public or signed URL points at.
func (p *Pipeline) DeleteByURL(ctx context.Context, rawURL string) error {
	const op = "attachments.delete"
	loc, ok := storage.ParseObjectURL(rawURL)
	if !ok || !KnownBucket(loc.Bucket) {
		return apperr.New(apperr.KindValidation, op, "invalid file URL")
	}
	return p.store.Delete(ctx, loc.Bucket, loc.Path)
}
