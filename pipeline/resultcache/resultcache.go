// Package resultcache persists recognition results to a local SQLite
// database. The pipeline writes fire-and-forget: results are queued onto a
// bounded channel and flushed by a background thread, so a slow disk never
// stalls a scoring pass.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Kind of a cached result row.
const (
	KindSign      = "sign"
	KindDetection = "detection"
	KindSound     = "sound"
)

// Result is one persisted recognition outcome.
type Result struct {
	BaseModel
	Key       string      `json:"key"`  // Content hash of the input frame
	Kind      string      `json:"kind"` // KindSign, KindDetection, KindSound
	Payload   string      `json:"payload"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Cache struct {
	log    logs.Log
	db     *gorm.DB
	dbPath string

	writeQueue        chan Result
	shutdown          chan bool
	writeThreadClosed chan bool
	lastDropLog       time.Time
}

// Open or create the result cache at dbPath.
func Open(log logs.Log, dbPath string) (*Cache, error) {
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open result cache %v: %w", dbPath, err)
	}
	c := &Cache{
		log:               log,
		db:                db,
		dbPath:            dbPath,
		writeQueue:        make(chan Result, 64),
		shutdown:          make(chan bool),
		writeThreadClosed: make(chan bool),
	}
	go c.writeThread()
	return c, nil
}

// KeyOf returns the content hash used as the dedupe key for an input frame.
func KeyOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutAsync queues a result for persistence without blocking. If the write
// queue is full the result is dropped. Losing a cache row is harmless.
func (c *Cache) PutAsync(key, kind, payload string) {
	r := Result{
		Key:       key,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}
	select {
	case c.writeQueue <- r:
	default:
		if time.Since(c.lastDropLog) > 15*time.Second {
			c.lastDropLog = time.Now()
			c.log.Warnf("Result cache write queue full, dropping %v result", kind)
		}
	}
}

// Put persists a result synchronously, replacing any existing row with the
// same key.
func (c *Cache) Put(key, kind, payload string) error {
	return c.db.Exec(`
		INSERT INTO result (key, kind, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, created_at = excluded.created_at`,
		key, kind, payload, time.Now().UnixMilli()).Error
}

// Get returns the result with the given key, or gorm.ErrRecordNotFound.
func (c *Cache) Get(key string) (*Result, error) {
	r := Result{}
	if err := c.db.First(&r, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// Recent returns up to limit results of the given kind, newest first.
// An empty kind matches all kinds.
func (c *Cache) Recent(kind string, limit int) ([]Result, error) {
	results := []Result{}
	q := c.db.Order("created_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Find(&results).Error
	return results, err
}

// Prune deletes results older than maxAge, returning the number removed.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	tx := c.db.Exec("DELETE FROM result WHERE created_at < ?", cutoff)
	return tx.RowsAffected, tx.Error
}

// Close flushes the write queue and stops the write thread.
func (c *Cache) Close() {
	close(c.shutdown)
	<-c.writeThreadClosed
}

func (c *Cache) writeThread() {
	defer close(c.writeThreadClosed)
	for {
		select {
		case r := <-c.writeQueue:
			c.write(r)
		case <-c.shutdown:
			// Drain whatever is still queued before exiting
			for {
				select {
				case r := <-c.writeQueue:
					c.write(r)
				default:
					return
				}
			}
		}
	}
}

func (c *Cache) write(r Result) {
	err := c.db.Exec(`
		INSERT INTO result (key, kind, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, created_at = excluded.created_at`,
		r.Key, r.Kind, r.Payload, int64(r.CreatedAt)).Error
	if err != nil {
		c.log.Errorf("Failed to persist %v result: %v", r.Kind, err)
	}
}
