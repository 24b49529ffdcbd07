package scancache

import (
	"os"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/encoding"
	"github.com/xanados/searchdestroy-core/pkg/logging"
)

// journalRecord is the on-disk representation of a single cache entry.
type journalRecord struct {
	Key              string    `json:"key"`
	CompositeVerdict []byte    `json:"composite_verdict"`
	SizeBytes        int64     `json:"size_bytes"`
	StoredAt         time.Time `json:"stored_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Snapshot returns every unexpired entry across all shards, for persistence
// to the on-disk journal when cache.persist is enabled.
func (c *Cache) Snapshot() []*Entry {
	now := time.Now()
	var all []*Entry
	for _, s := range c.shards {
		all = append(all, s.snapshot(now)...)
	}
	return all
}

// SaveJournal atomically writes the cache's current contents to path as
// JSON, following the same temp-file-plus-rename save idiom used for
// configuration and quarantine sidecars.
func (c *Cache) SaveJournal(path string, logger *logging.Logger) error {
	records := make([]journalRecord, 0)
	for _, entry := range c.Snapshot() {
		records = append(records, journalRecord{
			Key:              entry.Key,
			CompositeVerdict: entry.CompositeVerdict,
			SizeBytes:        entry.SizeBytes,
			StoredAt:         entry.StoredAt,
			ExpiresAt:        entry.ExpiresAt,
		})
	}
	return encoding.MarshalAndSaveJSON(path, logger, records)
}

// LoadJournal populates the cache from a previously saved journal at path.
// A missing file is not an error; a corrupt file surfaces as
// sderrors.KindCacheCorrupt via the caller, which should discard and
// continue with an empty cache rather than fail startup.
func (c *Cache) LoadJournal(path string) error {
	var records []journalRecord
	if err := encoding.LoadAndUnmarshalJSON(path, &records); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	now := time.Now()
	for _, record := range records {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			continue
		}
		entry := &Entry{
			Key:              record.Key,
			CompositeVerdict: record.CompositeVerdict,
			SizeBytes:        record.SizeBytes,
			StoredAt:         record.StoredAt,
			ExpiresAt:        record.ExpiresAt,
		}
		c.shardFor(record.Key).put(record.Key, entry)
	}
	return nil
}
