package store

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
)

// ReportCache keeps recently built reports keyed by request fingerprint.
// It is safe for concurrent use.
type ReportCache struct {
	cache *lru.Cache[uint64, *model.Report]
}

// NewReportCache creates a cache holding up to size reports
func NewReportCache(size int) (*ReportCache, error) {
	cache, err := lru.New[uint64, *model.Report](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create report cache: %w", err)
	}
	return &ReportCache{cache: cache}, nil
}

// Get returns the cached report for key
func (c *ReportCache) Get(key uint64) (*model.Report, bool) {
	return c.cache.Get(key)
}

// Add stores a report under key
func (c *ReportCache) Add(key uint64, report *model.Report) {
	c.cache.Add(key, report)
}

// Resize changes the cache capacity, evicting the oldest entries if needed
func (c *ReportCache) Resize(size int) int {
	return c.cache.Resize(size)
}

// Len returns the number of cached reports
func (c *ReportCache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached report
func (c *ReportCache) Purge() {
	c.cache.Purge()
}

// Fingerprint hashes everything that determines a request's report: the
// rule set generation, whether the alias dataset is used, the sample hashes,
// the file type and the labels in order.
func Fingerprint(generation uint64, useDataset bool, req *model.Request) uint64 {
	d := xxhash.New()

	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}

	write(strconv.FormatUint(generation, 10))
	write(strconv.FormatBool(useDataset))
	write(req.MD5)
	write(req.SHA1)
	write(req.SHA256)
	write(req.FileType)
	write(strconv.Itoa(len(req.Labels)))
	for _, label := range req.Labels {
		write(label)
	}

	return d.Sum64()
}
