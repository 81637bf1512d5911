// Package bridge drives an engine running in another process over
// line-delimited JSON on its stdin/stdout, and implements the serving side
// so any engine.Engine can be exposed the same way.
package bridge

import (
	"encoding/json"
	"errors"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/geometry"
)

const (
	opHello     = "hello"
	opApply     = "apply"
	opConfigure = "configure"
	opSolve     = "solve"
	opAbort     = "abort"
	opSParams   = "sparams"
	opFarField  = "farfield"
	opClose     = "close"
)

// Error codes that map onto engine sentinels.
const (
	codeNoSolution    = "no_solution"
	codeNotConfigured = "not_configured"
	codeClosed        = "closed"
	codeInvalidConfig = "invalid_config"
)

type request struct {
	ID     uint64          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Error  *wireError      `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type helloResult struct {
	Version string `json:"version"`
}

type applyParams struct {
	Commands geometry.Sequence `json:"commands"`
}

type configureParams struct {
	Setup engine.SetupConfig `json:"setup"`
	Sweep engine.SweepConfig `json:"sweep"`
}

type sparamsParams struct {
	Setup string `json:"setup"`
	Sweep string `json:"sweep"`
}

type farFieldParams struct {
	Setup       string             `json:"setup"`
	FrequencyHz float64            `json:"frequency_hz"`
	Grid        engine.AngularGrid `json:"grid"`
}

func encodeError(err error) *wireError {
	if err == nil {
		return nil
	}
	we := &wireError{Kind: engine.KindOf(err).String(), Message: err.Error()}
	switch {
	case errors.Is(err, engine.ErrNoSolution):
		we.Code = codeNoSolution
	case errors.Is(err, engine.ErrNotConfigured):
		we.Code = codeNotConfigured
	case errors.Is(err, engine.ErrClosed):
		we.Code = codeClosed
	case errors.Is(err, engine.ErrInvalidConfig):
		we.Code = codeInvalidConfig
	}
	return we
}

type remoteError struct{ msg string }

func (e *remoteError) Error() string { return e.msg }

func decodeError(op string, we *wireError) error {
	var cause error = &remoteError{msg: we.Message}
	switch we.Code {
	case codeNoSolution:
		cause = errors.Join(engine.ErrNoSolution, cause)
	case codeNotConfigured:
		cause = errors.Join(engine.ErrNotConfigured, cause)
	case codeClosed:
		cause = errors.Join(engine.ErrClosed, cause)
	case codeInvalidConfig:
		cause = errors.Join(engine.ErrInvalidConfig, cause)
	}
	kind := engine.ParseKind(we.Kind)
	if kind == engine.KindUnknown {
		return cause
	}
	return &engine.Error{Kind: kind, Op: op, Err: cause}
}
