package attachments

import (
	"path"
	"sort"
	"strings"
)

// Bucket keys accepted from clients.
const (
	BucketCommunity   = "community"
	BucketMarketplace = "marketplace"
	BucketOffers      = "offers"
	BucketEvents      = "events"
	BucketGarage      = "garage"
	BucketBidRepair   = "bidrepair"
	BucketImport      = "import"
	BucketProfile     = "profile"
)

var buckets = map[string]string{
	BucketCommunity:   "community",
	BucketMarketplace: "marketplace",
	BucketOffers:      "offers",
	BucketEvents:      "events",
	BucketGarage:      "garage",
	BucketBidRepair:   "bidrepair",
	BucketImport:      "import",
	BucketProfile:     "profile",
}

// Storage policies on these buckets check the first path segment, so the
// folder is fixed per bucket. Only community honours the caller's folder.
var folders = map[string]string{
	BucketMarketplace: "listings",
	BucketOffers:      "offers",
	BucketEvents:      "events",
	BucketGarage:      "garages",
	BucketBidRepair:   "bidrepair",
	BucketImport:      "imports",
	BucketProfile:     "avatars",
}

const defaultFolder = "general"

// Target says where an upload goes.
type Target struct {
	BucketKey string `json:"bucket" form:"bucket"`
	Folder    string `json:"folder" form:"folder"`
}

// Bucket resolves the storage bucket. Unknown keys fall back to community.
func (t Target) Bucket() string {
	if b, ok := buckets[t.BucketKey]; ok {
		return b
	}
	return buckets[BucketCommunity]
}

// PathFolder resolves the first path segment of the object key.
func (t Target) PathFolder() string {
	if f, ok := folders[t.BucketKey]; ok {
		return f
	}
	if f := strings.Trim(path.Clean("/"+t.Folder), "/"); f != "" {
		return f
	}
	return defaultFolder
}

// KnownBucket reports whether name is one of the attachment buckets.
func KnownBucket(name string) bool {
	for _, b := range buckets {
		if b == name {
			return true
		}
	}
	return false
}

// Buckets lists the attachment bucket names, sorted.
func Buckets() []string {
	out := make([]string, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}
