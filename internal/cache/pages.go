package cache

import (
	"encoding/json"
	"time"
)

// Page is the cached form of one fetched source: the extracted visible text
// plus enough metadata to rebuild a Source record without refetching.
type Page struct {
	URL       string    `json:"url"`       // Normalized request URL
	FinalURL  string    `json:"final_url"` // After redirects
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"` // Visible text, not raw HTML
	FetchedAt time.Time `json:"fetched_at"`
}

// PageStore is a typed view over a Cache for fetched pages. Entries are keyed
// by normalized URL; TTL expiry is handled by the underlying layers.
type PageStore struct {
	cache Cache
	ttl   time.Duration
}

// NewPageStore wraps a cache with page encoding and a default TTL
func NewPageStore(c Cache, ttl time.Duration) *PageStore {
	return &PageStore{cache: c, ttl: ttl}
}

// Get returns the cached page for a URL, if present and unexpired
func (s *PageStore) Get(url string) (*Page, bool) {
	data, found := s.cache.Get(Key(url))
	if !found {
		return nil, false
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		// Corrupt entry; drop it so the next fetch repopulates.
		_ = s.cache.Delete(Key(url))
		return nil, false
	}
	return &page, true
}

// Put stores a fetched page under its normalized URL
func (s *PageStore) Put(url string, page *Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return s.cache.Set(Key(url), data, s.ttl)
}
