package conncache

import (
	"context"
	"net/url"
	"sync"

	"gorm.io/gorm"
)

// Conn is a shared database handle. Request handlers borrow it; only the
// code that decides the link is dead should call Close.
type Conn struct {
	db *gorm.DB

	mu        sync.Mutex
	closed    bool
	observers []func()
}

func newConn(db *gorm.DB) *Conn { return &Conn{db: db} }

// DB returns the underlying GORM handle.
func (c *Conn) DB() *gorm.DB { return c.db }

// Ping verifies the link is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnClose registers fn to run when the handle closes. Observers run once,
// in registration order. Registering on a closed handle runs fn immediately.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Close closes the link and notifies observers. Only the first call has any
// effect; later calls return nil.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	observers := c.observers
	c.observers = nil
	c.mu.Unlock()

	var err error
	if sqlDB, derr := c.db.DB(); derr == nil {
		err = sqlDB.Close()
	} else {
		err = derr
	}
	for _, fn := range observers {
		fn()
	}
	return err
}

// redactURL strips credentials from url for logging. Non-URL DSNs (plain
// file paths) are returned unchanged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
