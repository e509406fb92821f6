// Package conncache keeps one live database handle per database URL and
// shares it across requests.
//
// A handle is opened lazily on the first Get for its URL and reused until it
// closes. Closing a handle notifies its observers exactly once; the cache
// registers one such observer at creation time that drops the URL's entry,
// so the next Get opens a fresh handle. Failed opens are never cached.
//
// Concurrent misses for the same URL share a single open (singleflight),
// so at most one handle is created per URL at a time.
//
// Usage:
//
//	cache := conncache.New(repo.OpenAndMigrate)
//	conn, err := cache.Get(ctx, cfg.Credentials.DatabaseURL)
//	if err != nil {
//	    // connect failure, surfaced per request
//	}
//	db := conn.DB()
package conncache

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// OpenFunc opens a new database handle for url.
type OpenFunc func(url string) (*gorm.DB, error)

// ErrNilOpenFunc is returned by Get when the cache was built without an opener.
var ErrNilOpenFunc = errors.New("conncache: nil open func")

var (
	connOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haiku_db_connections_opened_total",
		Help: "Database handles opened by the connection cache.",
	})
	connErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haiku_db_connection_errors_total",
		Help: "Failed attempts to open a database handle.",
	})
	connLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "haiku_db_connections_open",
		Help: "Database handles currently held by the connection cache.",
	})
)

func init() {
	prometheus.MustRegister(connOpened, connErrors, connLive)
}

// Cache maps database URLs to live, shared handles. It is safe for
// concurrent use; the zero value is not usable, use New.
type Cache struct {
	open  OpenFunc
	group singleflight.Group

	mu    sync.Mutex
	conns map[string]*Conn
}

// New returns an empty cache that opens handles with open.
func New(open OpenFunc) *Cache {
	return &Cache{
		open:  open,
		conns: make(map[string]*Conn),
	}
}

// Get returns the live handle for url, opening one if none is cached.
// An open failure is returned as-is and leaves the cache untouched.
func (c *Cache) Get(ctx context.Context, url string) (*Conn, error) {
	if conn := c.lookup(url); conn != nil {
		return conn, nil
	}
	if c.open == nil {
		return nil, ErrNilOpenFunc
	}

	ch := c.group.DoChan(url, func() (any, error) {
		// Another flight may have finished between lookup and DoChan.
		if conn := c.lookup(url); conn != nil {
			return conn, nil
		}
		db, err := c.open(url)
		if err != nil {
			connErrors.Inc()
			return nil, err
		}
		conn := newConn(db)
		c.store(url, conn)
		conn.OnClose(func() { c.evict(url, conn) })
		connOpened.Inc()
		log.Debug().Str("db_url", redactURL(url)).Msg("database handle opened")
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

// Evict drops url's entry without closing its handle. Holders of the old
// handle keep using it; the next Get opens a new one.
func (c *Cache) Evict(url string) {
	c.mu.Lock()
	if _, ok := c.conns[url]; ok {
		delete(c.conns, url)
		connLive.Dec()
	}
	c.mu.Unlock()
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close closes every cached handle. Each close evicts its own entry, so the
// cache is empty afterwards. The first close error is returned.
func (c *Cache) Close() error {
	c.mu.Lock()
	conns := make([]*Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	var first error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Cache) lookup(url string) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[url]
	if !ok {
		return nil
	}
	if conn.Closed() {
		delete(c.conns, url)
		connLive.Dec()
		return nil
	}
	return conn
}

func (c *Cache) store(url string, conn *Conn) {
	c.mu.Lock()
	if _, ok := c.conns[url]; !ok {
		connLive.Inc()
	}
	c.conns[url] = conn
	c.mu.Unlock()
}

// evict removes url only while it still maps to conn, so a stale close
// cannot drop a newer handle.
func (c *Cache) evict(url string, conn *Conn) {
	c.mu.Lock()
	if cur, ok := c.conns[url]; ok && cur == conn {
		delete(c.conns, url)
		connLive.Dec()
		log.Debug().Str("db_url", redactURL(url)).Msg("database handle evicted")
	}
	c.mu.Unlock()
}
