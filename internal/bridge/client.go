package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ditkit/ditreport/internal/logging"
	"github.com/ditkit/ditreport/internal/session"
)

// Client multiplexes JSON-RPC calls over a byte stream. Responses are matched
// to calls by id, so a call abandoned on timeout does not poison the next one.
type Client struct {
	w       io.Writer
	writeMu sync.Mutex
	timeout time.Duration
	logger  *slog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *Response
	err     error
	done    chan struct{}
}

// NewClient starts reading responses from r. timeout bounds every call that
// has no earlier deadline; zero means no bound.
func NewClient(r io.Reader, w io.Writer, timeout time.Duration, logger *slog.Logger) *Client {
	c := &Client{
		w:       w,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var err error
	for {
		var line []byte
		line, err = reader.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		err = ErrClosed
	}
	c.shutdown(err)
}

func (c *Client) dispatch(line []byte) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.logger.Warn("bridge sent invalid JSON", "error", err)
		return
	}
	if resp.ID == nil {
		c.logger.Debug("bridge notification ignored")
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	delete(c.pending, *resp.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("late bridge response dropped", "id", *resp.ID)
		return
	}
	ch <- &resp
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Err returns why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call sends method with params and decodes the result into out (if non-nil).
// Transport failures and a dead bridge surface as session.ErrUnavailable.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	parent := ctx
	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return unavailable(err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.w.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.shutdown(err)
		return unavailable(err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		if parent.Err() == nil {
			// Our own call timeout: the application stopped answering.
			return unavailable(fmt.Errorf("%s timed out after %s", method, c.timeout))
		}
		return parent.Err()
	case resp, ok := <-ch:
		if !ok {
			return unavailable(c.Err())
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Done is closed when the read side ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}
