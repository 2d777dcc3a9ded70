package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/register"
	"github.com/regbind/regbind-go/pkg/transport"
	"github.com/regbind/regbind-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrInvalidCore     = errors.New("core out of range")
)

// Conn is the framed connection a Client runs over.
// Implemented by transport.ClientConn.
type Conn interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// Config configures a Client.
type Config struct {
	// Timeout bounds each request (default 5s).
	Timeout time.Duration

	// KeepAlive pings the target with Info requests. A zero PingInterval
	// disables it.
	KeepAlive transport.KeepAliveConfig

	// OnLost is called once when the connection fails or keep-alive gives
	// up. It is not called after Close.
	OnLost func(err error)

	// Transport configures Dial.
	Transport transport.ClientConfig

	Logger      *slog.Logger
	EventLogger log.Logger
}

// DefaultConfig returns a 5s request timeout with keep-alive enabled.
func DefaultConfig() Config {
	return Config{
		Timeout:   5 * time.Second,
		KeepAlive: transport.DefaultKeepAliveConfig(),
	}
}

// Info describes a target.
type Info struct {
	Name          string
	Cores         int
	MaxMultiCount int
}

// Client issues register requests over one connection.
type Client struct {
	conn    Conn
	timeout time.Duration
	onLost  func(error)
	logger  *slog.Logger
	events  log.Logger
	connID  string

	nextMsgID atomic.Uint32
	multiMax  atomic.Int32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response
	closed    bool
	lostOnce  sync.Once
	done      chan struct{}

	keepAlive *transport.KeepAlive
}

// Dial connects to a probe server and queries its Info.
func Dial(ctx context.Context, address string, cfg Config) (*Client, error) {
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.EventLogger
	}
	conn, err := transport.Dial(ctx, address, cfg.Transport)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, cfg)
	c.connID = conn.ConnID()
	if _, err := c.Info(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("query target info: %w", err)
	}
	return c, nil
}

// NewClient starts a client over conn. The client owns conn from now on.
// Multi-reads are assumed supported until Info says otherwise.
func NewClient(conn Conn, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	c := &Client{
		conn:    conn,
		timeout: cfg.Timeout,
		onLost:  cfg.OnLost,
		logger:  cfg.Logger,
		events:  log.OrNoop(cfg.EventLogger),
		pending: make(map[uint32]chan *wire.Response),
		done:    make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.multiMax.Store(wire.MaxMultiCount)

	go c.readLoop()

	if cfg.KeepAlive.PingInterval > 0 {
		c.keepAlive = transport.NewKeepAlive(cfg.KeepAlive, c.sendPing, func() {
			c.lost(fmt.Errorf("keep-alive: %w", ErrRequestTimeout))
		})
		c.keepAlive.Start(context.Background())
	}
	return c
}

// Done is closed when the client stops, by Close or connection loss.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the client and fails pending requests with ErrClientClosed.
func (c *Client) Close() error {
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
	c.pendingMu.Unlock()

	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	return c.conn.Close()
}

// lost reports a failed connection once and closes the client.
func (c *Client) lost(err error) {
	c.pendingMu.Lock()
	closed := c.closed
	c.pendingMu.Unlock()
	if closed {
		return
	}
	c.lostOnce.Do(func() {
		c.logger.Warn("probe connection lost", "connection", c.connID, "error", err)
		_ = c.Close()
		if c.onLost != nil {
			c.onLost(err)
		}
	})
}

func (c *Client) readLoop() {
	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.lost(err)
			return
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			c.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		c.logMessage(log.DirectionIn, nil, resp)
		if err := c.HandleResponse(resp); err != nil {
			c.logger.Debug("dropping response", "messageId", resp.MessageID, "error", err)
		}
	}
}

// HandleResponse routes resp to the request waiting for it.
func (c *Client) HandleResponse(resp *wire.Response) error {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MessageID]
	delete(c.pending, resp.MessageID)
	c.pendingMu.Unlock()
	if !ok {
		return ErrUnexpectedReply
	}
	ch <- resp
	return nil
}

func (c *Client) nextMessageID() uint32 {
	for {
		if id := c.nextMsgID.Add(1); id != 0 {
			return id
		}
	}
}

func (c *Client) sendRequest(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	req.MessageID = c.nextMessageID()
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[req.MessageID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	c.logMessage(log.DirectionOut, req, nil)
	if err := c.conn.Send(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, req.Op)
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if !resp.IsSuccess() {
			return nil, &StatusError{Status: resp.Status, Message: resp.Message}
		}
		return resp, nil
	}
}

// Info queries the target identity. A MaxMultiCount of zero means the
// target serves single reads only.
func (c *Client) Info(ctx context.Context) (Info, error) {
	resp, err := c.sendRequest(ctx, &wire.Request{Op: wire.OpInfo})
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: resp.Message}
	if len(resp.Values) >= 2 {
		info.Cores = int(resp.Values[0])
		info.MaxMultiCount = int(resp.Values[1])
	}
	c.multiMax.Store(int32(info.MaxMultiCount))
	return info, nil
}

func (c *Client) sendPing(seq uint32) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.Info(ctx); err == nil {
			c.keepAlive.PongReceived(seq)
		}
	}()
	return nil
}

// SupportsMultiRead implements register.MultiReadCapable.
func (c *Client) SupportsMultiRead() bool {
	return c.multiMax.Load() > 1
}

// ReadRegister implements register.Reader.
func (c *Client) ReadRegister(ctx context.Context, reg *register.Register, core int) (uint64, error) {
	if err := checkCore(core); err != nil {
		return 0, err
	}
	return c.readAt(ctx, reg.Group, reg.Addr, core)
}

func (c *Client) readAt(ctx context.Context, group string, addr int64, core int) (uint64, error) {
	resp, err := c.sendRequest(ctx, &wire.Request{
		Op:    wire.OpRead,
		Group: group,
		Addr:  addr,
		Core:  uint8(core),
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Values) != 1 {
		return 0, fmt.Errorf("%w: %d values for %s/%#x", ErrUnexpectedReply, len(resp.Values), group, addr)
	}
	return resp.Values[0], nil
}

// ReadRegisters implements register.MultiReader. Runs longer than the
// target's limit are split into several requests.
func (c *Client) ReadRegisters(ctx context.Context, first *register.Register, count, core int) ([]uint64, error) {
	if err := checkCore(core); err != nil {
		return nil, err
	}
	chunk := int(c.multiMax.Load())
	out := make([]uint64, 0, count)
	if chunk < 2 {
		// Target serves single reads only; addresses past first have no
		// Register of their own, so read by address.
		for off := 0; off < count; off++ {
			v, err := c.readAt(ctx, first.Group, first.Addr+int64(off), core)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	for off := 0; off < count; off += chunk {
		n := min(chunk, count-off)
		resp, err := c.sendRequest(ctx, &wire.Request{
			Op:    wire.OpReadMulti,
			Group: first.Group,
			Addr:  first.Addr + int64(off),
			Count: uint16(n),
			Core:  uint8(core),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Values...)
	}
	return out, nil
}

// WriteRegister implements register.Writer.
func (c *Client) WriteRegister(ctx context.Context, reg *register.Register, core int, v uint64) error {
	if err := checkCore(core); err != nil {
		return err
	}
	_, err := c.sendRequest(ctx, &wire.Request{
		Op:    wire.OpWrite,
		Group: reg.Group,
		Addr:  reg.Addr,
		Core:  uint8(core),
		Value: v,
	})
	return err
}

func checkCore(core int) error {
	if core < 0 || core > 255 {
		return fmt.Errorf("%w: %d", ErrInvalidCore, core)
	}
	return nil
}

func (c *Client) logMessage(dir log.Direction, req *wire.Request, resp *wire.Response) {
	c.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      messageEvent(req, resp, nil),
	})
}

// StatusError is a failed response from the target.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status.String()
}

// IsTransient reports whether retrying later may succeed.
func (e *StatusError) IsTransient() bool {
	return e.Status.IsTransient()
}

var (
	_ register.Reader           = (*Client)(nil)
	_ register.MultiReader      = (*Client)(nil)
	_ register.MultiReadCapable = (*Client)(nil)
	_ register.Writer           = (*Client)(nil)
)
