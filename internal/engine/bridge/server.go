package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/logging"
)

var errNoSession = errors.New("bridge: hello not received")

// server serves one session of eng over a stream pair.
type server struct {
	eng    engine.Engine
	logger logging.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	handle engine.Handle
	solves sync.WaitGroup
}

// Serve reads requests from r and writes responses to w until the peer
// sends close, r reaches EOF, or ctx is cancelled. Solve runs concurrently
// with the read loop so that abort is honoured mid-solve.
func Serve(ctx context.Context, r io.Reader, w io.Writer, eng engine.Engine, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Noop()
	}
	s := &server{eng: eng, logger: logger, enc: json.NewEncoder(w)}
	defer s.teardown()

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-stop:
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			var req request
			if err := json.Unmarshal(line, &req); err != nil {
				logger.Warn(ctx, "bridge: malformed request", logging.Err(err))
				continue
			}
			if done := s.dispatch(ctx, req); done {
				return nil
			}
		}
	}
}

func (s *server) dispatch(ctx context.Context, req request) (done bool) {
	s.logger.Debug(ctx, "bridge request", logging.String("op", req.Op), logging.Int("id", int(req.ID)))

	if req.Op == opHello {
		if s.handle == nil {
			h, err := s.eng.Open(ctx)
			if err != nil {
				s.reply(req.ID, nil, err)
				return false
			}
			s.handle = h
		}
		s.reply(req.ID, helloResult{Version: s.handle.Version()}, nil)
		return false
	}
	if s.handle == nil {
		s.reply(req.ID, nil, &engine.Error{Kind: engine.Connectivity, Op: req.Op, Err: errNoSession})
		return false
	}

	switch req.Op {
	case opApply:
		var p applyParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(req.ID, nil, &engine.Error{Kind: engine.GeometryRejected, Op: req.Op, Err: err})
			return false
		}
		s.reply(req.ID, nil, s.handle.Apply(ctx, p.Commands))
	case opConfigure:
		var p configureParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(req.ID, nil, fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err))
			return false
		}
		s.reply(req.ID, nil, s.handle.Configure(ctx, p.Setup, p.Sweep))
	case opSolve:
		h := s.handle
		s.solves.Add(1)
		go func() {
			defer s.solves.Done()
			s.reply(req.ID, nil, h.Solve(ctx))
		}()
	case opAbort:
		s.reply(req.ID, nil, s.handle.Abort())
	case opSParams:
		var p sparamsParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(req.ID, nil, err)
			return false
		}
		out, err := s.handle.SParameters(ctx, p.Setup, p.Sweep)
		s.reply(req.ID, out, err)
	case opFarField:
		var p farFieldParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(req.ID, nil, err)
			return false
		}
		out, err := s.handle.FarField(ctx, p.Setup, p.FrequencyHz, p.Grid)
		s.reply(req.ID, out, err)
	case opClose:
		s.teardown()
		s.reply(req.ID, nil, nil)
		return true
	default:
		s.reply(req.ID, nil, fmt.Errorf("bridge: unknown op %q", req.Op))
	}
	return false
}

func (s *server) reply(id uint64, result any, err error) {
	resp := response{ID: id, Error: encodeError(err)}
	if err == nil && result != nil {
		b, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = encodeError(merr)
		} else {
			resp.Result = b
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if werr := s.enc.Encode(resp); werr != nil {
		s.logger.Warn(context.Background(), "bridge: write failed", logging.Err(werr))
	}
}

func (s *server) teardown() {
	if s.handle == nil {
		return
	}
	s.handle.Abort()
	s.solves.Wait()
	if err := s.handle.Close(); err != nil {
		s.logger.Warn(context.Background(), "bridge: close failed", logging.Err(err))
	}
	s.handle = nil
}
