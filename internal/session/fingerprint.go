package session

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// AnnouncementCache deduplicates inv/headers announcements already seen
// from the one peer of its channel (one instance per channel), sized by
// config.Settings.AnnouncementCache (spec.md §6). Grounded on
// hashicorp/golang-lru/v2's fixed-capacity cache.
type AnnouncementCache struct {
	seen *lru.Cache[query.HeaderHash, struct{}]
}

// NewAnnouncementCache constructs a cache holding up to capacity hashes.
func NewAnnouncementCache(capacity int) *AnnouncementCache {
	if capacity <= 0 {
		capacity = 1
	}
	cache, _ := lru.New[query.HeaderHash, struct{}](capacity)
	return &AnnouncementCache{seen: cache}
}

// Seen reports whether hash was already recorded, recording it if not
// (first-caller-wins, matching the "accept once" announcement dedup used
// ahead of the organize engine's own duplicate check).
func (a *AnnouncementCache) Seen(hash query.HeaderHash) bool {
	if _, ok := a.seen.Get(hash); ok {
		return true
	}
	a.seen.Add(hash, struct{}{})
	return false
}

// Has reports whether hash is recorded, without recording it. Used on the
// outbound announce path (spec.md §8 property 6 "no echo": the last N
// hashes announced *by the peer on this channel* are not announced back to
// it) to check without mutating the bound this channel's own Seen calls
// already maintain.
func (a *AnnouncementCache) Has(hash query.HeaderHash) bool {
	_, ok := a.seen.Get(hash)
	return ok
}
