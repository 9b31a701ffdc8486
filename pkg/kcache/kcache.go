// Package kcache persists compiled OpenCL program binaries in BadgerDB so a
// restart on the same device and driver skips the source build.
//
// Keys are BLAKE2b digests over the device name, driver version, build
// options and kernel source. Any change to one of them produces a new key,
// so stale binaries are never returned; they simply age out when a TTL is
// configured.
package kcache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"
)

const prefixBinary = byte(0x01) // binary:digest -> program binary

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("kcache: closed")

// Options configures the cache.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// TTL expires entries after the given duration. Zero keeps them forever.
	TTL time.Duration

	// Logger receives Badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// Stats counts cache traffic since Open.
type Stats struct {
	Hits   int64
	Misses int64
	Puts   int64
}

// Cache is a BadgerDB backed program binary cache. It is safe for
// concurrent use.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	closed atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("kcache: directory required")
	}

	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(32 << 20).
		WithNumMemtables(1).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{log: opts.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("kcache: open %q: %w", opts.Dir, err)
	}
	return &Cache{db: db, ttl: opts.TTL}, nil
}

// Key derives the cache key of a program build.
func (c *Cache) Key(device, driver, source, options string) []byte {
	return Key(device, driver, source, options)
}

// Key derives the cache key of a program build. Fields are length prefixed
// so that no two distinct tuples hash the same input.
func Key(device, driver, source, options string) []byte {
	h, _ := blake2b.New256(nil)
	for _, s := range []string{device, driver, options, source} {
		var n [8]byte
		l := uint64(len(s))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return append([]byte{prefixBinary}, h.Sum(nil)...)
}

// Get returns the binary stored under key.
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	var bin []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		bin, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kcache: get: %w", err)
	}
	c.hits.Add(1)
	return bin, true, nil
}

// Put stores a binary under key, replacing any previous value.
func (c *Cache) Put(key, bin []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(bin) == 0 {
		return errors.New("kcache: empty binary")
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, bin)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("kcache: put: %w", err)
	}
	c.puts.Add(1)
	return nil
}

// Len counts the stored binaries.
func (c *Cache) Len() (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixBinary}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge removes every stored binary.
func (c *Cache) Purge() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.db.DropPrefix([]byte{prefixBinary})
}

// Stats returns the traffic counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Puts: c.puts.Load()}
}

// Close flushes and closes the database. It is safe to call more than once.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.db.Close()
}

// badgerLogger routes Badger's printf style logging to slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
