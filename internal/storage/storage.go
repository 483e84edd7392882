// Package storage uploads, signs and deletes objects in Supabase Storage,
// either over its REST API or through its S3-compatible endpoint.
package storage

import (
	"net/url"
	"strings"
)

// UploadTicket lets the holder upload one object without long-lived
// credentials. For Supabase, Token is the upload token; for S3, SignedURL
// is a presigned PUT.
type UploadTicket struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	Token     string `json:"token"`
	SignedURL string `json:"signed_url,omitempty"`
}

// ObjectLocation is a bucket and object path parsed from a storage URL.
type ObjectLocation struct {
	Bucket string
	Path   string
}

var objectURLMarkers = []string{
	"/storage/v1/object/public/",
	"/storage/v1/object/sign/",
	"/storage/v1/object/authenticated/",
	"/storage/v1/object/",
}

// ParseObjectURL extracts the bucket and path from a public, signed or
// authenticated object URL. Query strings (signed tokens) are ignored.
func ParseObjectURL(raw string) (ObjectLocation, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return ObjectLocation{}, false
	}
	p := u.Path
	for _, marker := range objectURLMarkers {
		i := strings.Index(p, marker)
		if i < 0 {
			continue
		}
		rest := p[i+len(marker):]
		slash := strings.Index(rest, "/")
		if slash <= 0 || slash == len(rest)-1 {
			return ObjectLocation{}, false
		}
		return ObjectLocation{Bucket: rest[:slash], Path: rest[slash+1:]}, true
	}
	return ObjectLocation{}, false
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
