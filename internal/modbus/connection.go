package modbus

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Endpoint is a single TCP address a connection can dial.
type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Connection manages a primary/backup TCP pair for one slave link,
// switching to the backup after consecutive dial or I/O failures on the
// active endpoint (spec §4.8: "primary/backup failover").
type Connection struct {
	primary Endpoint
	backup  Endpoint
	hasBackup bool

	conn      net.Conn
	active    int // 0 = primary, 1 = backup
	failures  int
	dialTimeout time.Duration

	// switchAfter is how many consecutive failures on the active endpoint
	// trigger a failover to the other one.
	switchAfter int
}

// NewConnection builds a Connection with only a primary endpoint.
func NewConnection(primary Endpoint, dialTimeout time.Duration) *Connection {
	return &Connection{primary: primary, dialTimeout: dialTimeout, switchAfter: 3}
}

// WithBackup adds a backup endpoint to fail over to.
func (c *Connection) WithBackup(backup Endpoint) *Connection {
	c.backup = backup
	c.hasBackup = true
	return c
}

func (c *Connection) endpoint() Endpoint {
	if c.active == 1 && c.hasBackup {
		return c.backup
	}
	return c.primary
}

// Ensure dials the active endpoint if not already connected.
func (c *Connection) Ensure(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	ep := c.endpoint()
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("modbus: dial %s: %w", ep, err)
	}
	c.conn = conn
	c.failures = 0
	return nil
}

// Conn returns the live connection, or nil if not connected.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

// Fail records an I/O failure on the current connection, closing it and
// failing over to the backup once switchAfter consecutive failures occur.
func (c *Connection) Fail() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.recordFailure()
}

func (c *Connection) recordFailure() {
	c.failures++
	if c.hasBackup && c.failures >= c.switchAfter {
		if c.active == 0 {
			c.active = 1
		} else {
			c.active = 0
		}
		c.failures = 0
	}
}

// Close closes the current connection, if any.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ActiveEndpoint reports which endpoint is currently in use, for logging.
func (c *Connection) ActiveEndpoint() Endpoint {
	return c.endpoint()
}
