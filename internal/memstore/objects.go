package memstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/storage"

	"github.com/google/uuid"
)

type Object struct {
	Data        []byte
	ContentType string
}

// Objects is an in-memory object store with Supabase Storage URL shapes,
// so URLs it hands out parse back with storage.ParseObjectURL.
type Objects struct {
	baseURL string

	mu      sync.Mutex
	buckets map[string]map[string]Object
	tickets map[string]storage.UploadTicket
	calls   map[string]int
	fail    map[string]error
}

func NewObjects(baseURL string, buckets ...string) *Objects {
	o := &Objects{
		baseURL: strings.TrimRight(baseURL, "/"),
		buckets: make(map[string]map[string]Object),
		tickets: make(map[string]storage.UploadTicket),
		calls:   make(map[string]int),
		fail:    make(map[string]error),
	}
	for _, b := range buckets {
		o.CreateBucket(b)
	}
	return o
}

func (o *Objects) CreateBucket(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.buckets[name]; !ok {
		o.buckets[name] = make(map[string]Object)
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (o *Objects) Fail(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.fail, op)
		return
	}
	o.fail[op] = err
}

func (o *Objects) Calls(op string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[op]
}

func (o *Objects) enter(op string) error {
	o.calls[op]++
	return o.fail[op]
}

// Get returns a stored object.
func (o *Objects) Get(bucket, path string) (Object, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, ok := o.buckets[bucket][path]
	return obj, ok
}

func (o *Objects) put(op, bucket, path string, body []byte, contentType string) error {
	objs, ok := o.buckets[bucket]
	if !ok {
		return apperr.New(apperr.KindNotFound, op, "Bucket not found")
	}
	if _, exists := objs[path]; exists {
		return apperr.New(apperr.KindConflict, op, "The resource already exists")
	}
	objs[path] = Object{Data: append([]byte(nil), body...), ContentType: contentType}
	return nil
}

func (o *Objects) Upload(ctx context.Context, bucket, path string, body []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("Upload"); err != nil {
		return err
	}
	return o.put("storage.upload", bucket, path, body, contentType)
}

func (o *Objects) CreateSignedUpload(ctx context.Context, bucket, path string) (*storage.UploadTicket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("CreateSignedUpload"); err != nil {
		return nil, err
	}
	if _, ok := o.buckets[bucket]; !ok {
		return nil, apperr.New(apperr.KindNotFound, "storage.signed_upload", "Bucket not found")
	}
	t := storage.UploadTicket{Bucket: bucket, Path: path, Token: uuid.NewString()}
	t.SignedURL = fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s?token=%s", o.baseURL, bucket, path, url.QueryEscape(t.Token))
	o.tickets[t.Token] = t
	return &t, nil
}

func (o *Objects) UploadWithTicket(ctx context.Context, t storage.UploadTicket, body []byte, contentType string) error {
	const op = "storage.upload_signed"
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("UploadWithTicket"); err != nil {
		return err
	}
	issued, ok := o.tickets[t.Token]
	if !ok || issued.Bucket != t.Bucket || issued.Path != t.Path {
		return apperr.New(apperr.KindPermissionDenied, op, "invalid upload token")
	}
	delete(o.tickets, t.Token)
	return o.put(op, t.Bucket, t.Path, body, contentType)
}

func (o *Objects) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("SignedURL"); err != nil {
		return "", err
	}
	if _, ok := o.buckets[bucket][path]; !ok {
		return "", apperr.New(apperr.KindNotFound, "storage.sign", "Object not found")
	}
	return fmt.Sprintf("%s/storage/v1/object/sign/%s/%s?token=%s&expires=%d",
		o.baseURL, bucket, path, uuid.NewString(), int(ttl.Seconds())), nil
}

func (o *Objects) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", o.baseURL, bucket, path)
}

func (o *Objects) Delete(ctx context.Context, bucket, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("Delete"); err != nil {
		return err
	}
	objs, ok := o.buckets[bucket]
	if !ok {
		return apperr.New(apperr.KindNotFound, "storage.delete", "Bucket not found")
	}
	if _, ok := objs[path]; !ok {
		return apperr.New(apperr.KindNotFound, "storage.delete", "Object not found")
	}
	delete(objs, path)
	return nil
}

func (o *Objects) BucketExists(ctx context.Context, bucket string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enter("BucketExists"); err != nil {
		return false, err
	}
	_, ok := o.buckets[bucket]
	return ok, nil
}
