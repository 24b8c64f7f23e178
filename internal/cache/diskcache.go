package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type diskCacheMemRecord[V any] struct {
	createdAt  time.Time
	lastReadAt time.Time
	value      V
}

// DiskCache keeps json encoded values on disk, one file per key, with a
// bounded in-memory layer in front of it.
//
// When the memory layer is full the least recently read record is evicted
// from memory; its file is kept.
type DiskCache[K comparable, V any] struct {
	basePath   string
	mutex      sync.Mutex
	m          map[K]*diskCacheMemRecord[V]
	maxSize    int
	zipEnabled bool
	now        func() time.Time
}

func NewDiskCache[K comparable, V any](path string, maxSize int, zipEnabled bool) (*DiskCache[K, V], error) {
	if maxSize < 0 {
		maxSize = 0
	}

	fi, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to stat cache directory")
		}
		if err := os.MkdirAll(path, fs.ModePerm); err != nil {
			return nil, errors.Wrap(err, "failed to make cache directory")
		}
	} else if !fi.IsDir() {
		return nil, errors.Newf("existing path is not a directory: %s", path)
	}

	return &DiskCache[K, V]{
		basePath:   path,
		m:          make(map[K]*diskCacheMemRecord[V]),
		maxSize:    maxSize,
		zipEnabled: zipEnabled,
		now:        time.Now,
	}, nil
}

func (c *DiskCache[K, V]) Get(k K) (V, bool, error) {
	var result V

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if r, ok := c.m[k]; ok {
		r.lastReadAt = c.now()
		return r.value, true, nil
	}

	fp, err := c.filePath(k)
	if err != nil {
		return result, false, err
	}

	b, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return result, false, nil
		}

		return result, false, errors.Wrap(err, "failed to read cache file")
	}

	v, err := c.bytesToValue(b)
	if err != nil {
		return result, false, errors.Wrap(err, "failed to deserialize file contents")
	}

	now := c.now()
	c.remember(k, &diskCacheMemRecord[V]{
		createdAt:  now,
		lastReadAt: now,
		value:      v,
	})

	return v, true, nil
}

func (c *DiskCache[K, V]) Set(k K, v V) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	fp, err := c.filePath(k)
	if err != nil {
		return err
	}

	b, err := c.valueToBytes(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode value")
	}

	if err := os.WriteFile(fp, b, 0600); err != nil {
		return errors.Wrap(err, "failed to write cache file")
	}

	if r, ok := c.m[k]; ok {
		r.value = v
		return nil
	}

	c.remember(k, &diskCacheMemRecord[V]{
		createdAt: c.now(),
		value:     v,
	})

	return nil
}

func (c *DiskCache[K, V]) Delete(k K) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	fp, err := c.filePath(k)
	if err != nil {
		return err
	}

	delete(c.m, k)

	if err := os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove cache file")
	}

	return nil
}

// Len reports how many records are held in memory.
func (c *DiskCache[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.m)
}

func (c *DiskCache[K, V]) remember(k K, r *diskCacheMemRecord[V]) {
	if c.maxSize == 0 {
		return
	}

	if len(c.m) >= c.maxSize {
		c.evict()
	}

	c.m[k] = r
}

// evict drops the least recently read record from memory; records never
// read lose to ones that were, and ties go to the oldest.
//
// TODO: refactor from O(n) to a more constant alg
func (c *DiskCache[K, V]) evict() {
	var keyToRemove K
	var victim *diskCacheMemRecord[V]

	for k, v := range c.m {
		if victim == nil || older(v, victim) {
			keyToRemove = k
			victim = v
		}
	}

	if victim != nil {
		delete(c.m, keyToRemove)
	}
}

func older[V any](a, b *diskCacheMemRecord[V]) bool {
	if !a.lastReadAt.Equal(b.lastReadAt) {
		return a.lastReadAt.Before(b.lastReadAt)
	}

	return a.createdAt.Before(b.createdAt)
}

func (c *DiskCache[K, V]) filePath(k K) (string, error) {
	var fileKey string

	switch v := any(k).(type) {
	case string:
		fileKey = v
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(k); err != nil {
			return "", errors.Wrap(err, "failed to encode key")
		}

		fileKey = strings.TrimRight(buf.String(), "\n")
	}

	return filepath.Join(c.basePath, base64.RawURLEncoding.EncodeToString([]byte(fileKey))), nil
}

func (c *DiskCache[K, V]) valueToBytes(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	if !c.zipEnabled {
		return buf.Bytes(), nil
	}

	return zip(buf.Bytes())
}

func (c *DiskCache[K, V]) bytesToValue(b []byte) (V, error) {
	var result V

	if c.zipEnabled {
		v, err := unzip(b)
		if err != nil {
			return result, err
		}
		b = v
	}

	if err := json.Unmarshal(b, &result); err != nil {
		return result, err
	}

	return result, nil
}

func zip(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)

	if _, err := w.Write(b); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unzip(b []byte) ([]byte, error) {

	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
