package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/logging"
)

const (
	DefaultRate       = 200
	DefaultBurst      = 16
	DefaultAbortGrace = 5 * time.Second
	maxLineBytes      = 64 << 20
)

var errConnClosed = errors.New("bridge: connection closed")

type clientOptions struct {
	limiter    *rate.Limiter
	abortGrace time.Duration
	logger     logging.Logger
}

type Option func(*clientOptions)

// WithRate paces outgoing commands to r per second with the given burst.
func WithRate(r float64, burst int) Option {
	return func(o *clientOptions) { o.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// WithAbortGrace bounds how long a cancelled Solve waits for the remote
// side to acknowledge the abort.
func WithAbortGrace(d time.Duration) Option {
	return func(o *clientOptions) { o.abortGrace = d }
}

func WithLogger(l logging.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// client multiplexes requests over one stream pair. Responses are matched
// to requests by id so abort can be sent while solve is outstanding.
type client struct {
	opts    clientOptions
	w       io.Writer
	closer  func() error
	version string

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan response
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Dial performs the hello exchange over r/w and returns a live handle.
// closer, if non-nil, runs after the remote side has been asked to close.
func Dial(ctx context.Context, r io.Reader, w io.Writer, closer func() error, opts ...Option) (engine.Handle, error) {
	o := clientOptions{
		limiter:    rate.NewLimiter(DefaultRate, DefaultBurst),
		abortGrace: DefaultAbortGrace,
		logger:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &client{
		opts:    o,
		w:       w,
		closer:  closer,
		pending: make(map[uint64]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)

	var hello helloResult
	if err := c.call(ctx, opHello, nil, &hello); err != nil {
		c.shutdown()
		return nil, err
	}
	c.version = hello.Version
	return c, nil
}

func (c *client) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		var resp response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			c.opts.logger.Warn(context.Background(), "bridge: malformed response", logging.Err(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *client) send(ctx context.Context, op string, params any) (uint64, chan response, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return 0, nil, fmt.Errorf("bridge: encode %s: %w", op, err)
		}
		raw = b
	}
	if err := c.opts.limiter.Wait(ctx); err != nil {
		return 0, nil, &engine.Error{Kind: engine.Aborted, Op: op, Err: err}
	}

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return 0, nil, &engine.Error{Kind: engine.Connectivity, Op: op, Err: err}
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	line, err := json.Marshal(request{ID: id, Op: op, Params: raw})
	if err != nil {
		c.forget(id)
		return 0, nil, fmt.Errorf("bridge: encode %s: %w", op, err)
	}
	c.writeMu.Lock()
	_, err = c.w.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return 0, nil, &engine.Error{Kind: engine.Connectivity, Op: op, Err: err}
	}
	return id, ch, nil
}

func (c *client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) call(ctx context.Context, op string, params, result any) error {
	id, ch, err := c.send(ctx, op, params)
	if err != nil {
		return err
	}
	select {
	case resp, ok := <-ch:
		return c.finish(op, resp, ok, result)
	case <-ctx.Done():
		c.forget(id)
		return &engine.Error{Kind: engine.Aborted, Op: op, Err: ctx.Err()}
	}
}

func (c *client) finish(op string, resp response, ok bool, result any) error {
	if !ok {
		return &engine.Error{Kind: engine.Connectivity, Op: op, Err: errConnClosed}
	}
	if resp.Error != nil {
		return decodeError(op, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("bridge: decode %s: %w", op, err)
		}
	}
	return nil
}

func (c *client) Version() string { return c.version }

func (c *client) Apply(ctx context.Context, seq geometry.Sequence) error {
	return c.call(ctx, opApply, applyParams{Commands: seq}, nil)
}

func (c *client) Configure(ctx context.Context, setup engine.SetupConfig, sweep engine.SweepConfig) error {
	return c.call(ctx, opConfigure, configureParams{Setup: setup, Sweep: sweep}, nil)
}

// Solve waits for the remote solve. On cancellation it sends abort and
// waits up to the abort grace for the remote side to stop.
func (c *client) Solve(ctx context.Context) error {
	_, ch, err := c.send(ctx, opSolve, nil)
	if err != nil {
		return err
	}
	select {
	case resp, ok := <-ch:
		return c.finish(opSolve, resp, ok, nil)
	case <-ctx.Done():
	}

	c.opts.logger.Info(context.Background(), "bridge: solve cancelled, aborting remote")
	abortCtx, cancel := context.WithTimeout(context.Background(), c.opts.abortGrace)
	defer cancel()
	if err := c.call(abortCtx, opAbort, nil, nil); err != nil {
		c.opts.logger.Warn(abortCtx, "bridge: abort failed", logging.Err(err))
	}
	select {
	case <-ch:
	case <-abortCtx.Done():
	}
	return &engine.Error{Kind: engine.Aborted, Op: opSolve, Err: ctx.Err()}
}

func (c *client) Abort() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.abortGrace)
	defer cancel()
	return c.call(ctx, opAbort, nil, nil)
}

func (c *client) SParameters(ctx context.Context, setup, sweep string) (engine.SParameters, error) {
	var out engine.SParameters
	err := c.call(ctx, opSParams, sparamsParams{Setup: setup, Sweep: sweep}, &out)
	return out, err
}

func (c *client) FarField(ctx context.Context, setup string, frequencyHz float64, grid engine.AngularGrid) (engine.FarField, error) {
	var out engine.FarField
	err := c.call(ctx, opFarField, farFieldParams{Setup: setup, FrequencyHz: frequencyHz, Grid: grid}, &out)
	return out, err
}

// Close asks the remote side to release its session, then runs the closer.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.abortGrace)
		defer cancel()
		err := c.call(ctx, opClose, nil, nil)
		if engine.KindOf(err) == engine.Connectivity {
			err = nil
		}
		c.closeErr = errors.Join(err, c.shutdown())
	})
	return c.closeErr
}

func (c *client) shutdown() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
