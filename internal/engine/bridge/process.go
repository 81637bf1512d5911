package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/logging"
)

const (
	Name            = "bridge"
	DefaultExitWait = 10 * time.Second
)

// Engine launches an external engine executable per session.
type Engine struct {
	Path     string
	Args     []string
	Env      []string
	ExitWait time.Duration
	Options  []Option
	Logger   logging.Logger
}

// Factory adapts Engine to engine.Registry. Options: path, args
// (space separated), license_server (exported as PATCHSIM_LICENSE_SERVER).
func Factory(opts map[string]string) (engine.Engine, error) {
	path := opts["path"]
	if path == "" {
		return nil, fmt.Errorf("bridge: path is required")
	}
	e := &Engine{Path: path, Args: strings.Fields(opts["args"])}
	if ls := opts["license_server"]; ls != "" {
		e.Env = append(os.Environ(), "PATCHSIM_LICENSE_SERVER="+ls)
	}
	return e, nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Open(ctx context.Context) (engine.Handle, error) {
	path, err := exec.LookPath(e.Path)
	if err != nil {
		return nil, &engine.Error{Kind: engine.NotInstalled, Op: "open", Err: err}
	}

	cmd := exec.Command(path, e.Args...)
	cmd.Env = e.Env
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &engine.Error{Kind: engine.Crashed, Op: "open", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &engine.Error{Kind: engine.Crashed, Op: "open", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &engine.Error{Kind: engine.NotInstalled, Op: "open", Err: err}
	}

	wait := e.ExitWait
	if wait <= 0 {
		wait = DefaultExitWait
	}
	closer := func() error {
		stdin.Close()
		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()
		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &engine.Error{Kind: engine.Crashed, Op: "close", Err: err}
			}
			return err
		case <-time.After(wait):
			cmd.Process.Kill()
			<-exited
			return &engine.Error{Kind: engine.Crashed, Op: "close", Err: fmt.Errorf("engine did not exit within %s", wait)}
		}
	}

	opts := e.Options
	if e.Logger != nil {
		opts = append(append([]Option(nil), opts...), WithLogger(e.Logger))
	}
	h, err := Dial(ctx, stdout, stdin, closer, opts...)
	if err != nil {
		return nil, err
	}
	return h, nil
}
