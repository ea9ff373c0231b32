package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
)

func request(labels ...string) *model.Request {
	return &model.Request{
		MD5:      "md5",
		SHA1:     "sha1",
		SHA256:   "sha256",
		FileType: "executable/windows/pe32",
		Labels:   labels,
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint(1, false, request("a", "b"))

	assert.Equal(t, base, Fingerprint(1, false, request("a", "b")))
	assert.NotEqual(t, base, Fingerprint(2, false, request("a", "b")), "generation")
	assert.NotEqual(t, base, Fingerprint(1, true, request("a", "b")), "dataset flag")
	assert.NotEqual(t, base, Fingerprint(1, false, request("b", "a")), "label order")
	assert.NotEqual(t, base, Fingerprint(1, false, request("ab")), "label boundaries")

	other := request("a", "b")
	other.FileType = "code/vbs"
	assert.NotEqual(t, base, Fingerprint(1, false, other), "file type")
}

func TestReportCache(t *testing.T) {
	cache, err := NewReportCache(2)
	require.NoError(t, err)

	r1 := &model.Report{ID: "1"}
	r2 := &model.Report{ID: "2"}
	r3 := &model.Report{ID: "3"}

	cache.Add(1, r1)
	cache.Add(2, r2)
	got, ok := cache.Get(1)
	require.True(t, ok)
	assert.Same(t, r1, got)

	// 2 is now least recently used
	cache.Add(3, r3)
	_, ok = cache.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	evicted := cache.Resize(1)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestNewReportCache_InvalidSize(t *testing.T) {
	_, err := NewReportCache(0)
	assert.Error(t, err)
}
