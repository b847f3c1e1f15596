// Package tsclient talks to a novats server over the ntswire protocol.
package tsclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
	"github.com/tuannm99/novats/server/ntswire"
)

// Client is a simple synchronous client.
// It locks send/recv so you can call it concurrently but requests serialize.
type Client struct {
	conn net.Conn
	wire *ntswire.Conn
	mu   sync.Mutex
	id   atomic.Uint64

	// Optional per-request timeout (0 = no timeout).
	rwTimeout time.Duration
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	return DialContext(context.Background(), addr, timeout)
}

func DialContext(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c, wire: ntswire.NewConn(c)}, nil
}

// SetRWTimeout sets a per-request read/write deadline.
func (c *Client) SetRWTimeout(d time.Duration) {
	if c == nil {
		return
	}
	c.rwTimeout = d
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Do sends one request and waits for its response. Server-side failures come
// back as errors that match the engine sentinels with errors.Is.
func (c *Client) Do(ctx context.Context, req ntswire.Request) (*ntswire.Response, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("tsclient: nil client")
	}
	req.ID = c.id.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}
	defer func() {
		// Clear deadline after request so idle connection doesn't expire.
		_ = c.conn.SetDeadline(time.Time{})
	}()

	if err := c.wire.Write(req); err != nil {
		return nil, err
	}
	var resp ntswire.Response
	if err := c.wire.Read(&resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("tsclient: response id mismatch: got=%d want=%d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, ntswire.ErrorOf(resp.Code, resp.Error)
	}
	return &resp, nil
}

func (c *Client) applyDeadline(ctx context.Context) error {
	// Prefer context deadline if present; otherwise use rwTimeout.
	if dl, ok := ctx.Deadline(); ok {
		return c.conn.SetDeadline(dl)
	}
	if c.rwTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.rwTimeout))
	}
	return nil
}

func (c *Client) CreateTable(ctx context.Context, table string, cols []ntswire.ColumnDef) error {
	_, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpCreate, Table: table, Columns: cols})
	return err
}

func (c *Client) DropTable(ctx context.Context, table string) error {
	_, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpDrop, Table: table})
	return err
}

func (c *Client) Tables(ctx context.Context) ([]string, error) {
	resp, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpTables})
	if err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

// Insert writes one row; values follow the non-timestamp columns.
func (c *Client) Insert(ctx context.Context, table string, ts any, values ...any) error {
	_, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpInsert, Table: table, Ts: ts, Values: values})
	return err
}

// Delete removes rows matching where, which may only use the timestamp
// column. A nil where deletes everything.
func (c *Client) Delete(ctx context.Context, table string, where predicate.Expr) (int, error) {
	resp, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpDelete, Table: table, Where: ntswire.ExprOf(where)})
	if err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (c *Client) Flush(ctx context.Context, table string) (*ntswire.FlushInfo, error) {
	resp, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpFlush, Table: table})
	if err != nil {
		return nil, err
	}
	return resp.Flush, nil
}

func (c *Client) Compact(ctx context.Context, table string) (*ntswire.FlushInfo, error) {
	resp, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpCompact, Table: table})
	if err != nil {
		return nil, err
	}
	return resp.Flush, nil
}

func (c *Client) FlushAll(ctx context.Context) error {
	_, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpFlushAll})
	return err
}

func (c *Client) ResetQueryCache(ctx context.Context) error {
	_, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpResetCache})
	return err
}

// Result is a decoded query answer.
type Result struct {
	Columns []record.Column
	Rows    [][]record.Value
}

// Query selects columns (nil for all) from table.
func (c *Client) Query(ctx context.Context, table string, columns []string, where predicate.Expr) (*Result, error) {
	resp, err := c.Do(ctx, ntswire.Request{Op: ntswire.OpQuery, Table: table, Select: columns, Where: ntswire.ExprOf(where)})
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: make([]record.Column, len(resp.Columns)), Rows: make([][]record.Value, len(resp.Rows))}
	for i, d := range resp.Columns {
		if res.Columns[i], err = d.Column(); err != nil {
			return nil, err
		}
	}
	for i, raw := range resp.Rows {
		if len(raw) != len(res.Columns) {
			return nil, fmt.Errorf("tsclient: row %d has %d values for %d columns", i, len(raw), len(res.Columns))
		}
		row := make([]record.Value, len(raw))
		for j, v := range raw {
			if row[j], err = record.FromAny(res.Columns[j].Type, v); err != nil {
				return nil, fmt.Errorf("tsclient: row %d column %q: %w", i, res.Columns[j].Name, err)
			}
		}
		res.Rows[i] = row
	}
	return res, nil
}
