package bridge

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/engine/cavity"
	"github.com/san-kum/patchsim/internal/geometry"
)

var fixedClock = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type pipePair struct {
	serveErr chan error
	toServer *io.PipeWriter
	toClient *io.PipeWriter
	handle   engine.Handle
	dialErr  error
}

func connect(t *testing.T, eng engine.Engine) *pipePair {
	t.Helper()
	cr, cw := io.Pipe()
	sr, sw := io.Pipe()
	p := &pipePair{serveErr: make(chan error, 1), toServer: cw, toClient: sw}

	go func() {
		err := Serve(context.Background(), cr, sw, eng, nil)
		sw.Close()
		p.serveErr <- err
	}()

	p.handle, p.dialErr = Dial(context.Background(), sr, cw, func() error { return cw.Close() })
	return p
}

func sequence(t *testing.T) geometry.Sequence {
	t.Helper()
	spec, err := antenna.NewDesignSpec(2.4e9, 4.4, 1.57, 50)
	require.NoError(t, err)
	params, err := antenna.Synthesize(spec)
	require.NoError(t, err)
	seq, err := geometry.Build(params)
	require.NoError(t, err)
	return seq
}

var (
	setup = engine.DefaultSetup(2.4e9)
	sweep = engine.SweepConfig{Name: "Sweep1", StartHz: 2e9, StopHz: 3e9, Points: 51, Type: engine.SweepInterpolating}
)

func TestRoundTripMatchesLocalEngine(t *testing.T) {
	ctx := context.Background()
	p := connect(t, cavity.New(cavity.WithClock(fixedClock)))
	require.NoError(t, p.dialErr)
	assert.Equal(t, cavity.DefaultVersion, p.handle.Version())

	seq := sequence(t)
	require.NoError(t, p.handle.Apply(ctx, seq))
	require.NoError(t, p.handle.Configure(ctx, setup, sweep))
	require.NoError(t, p.handle.Solve(ctx))

	remote, err := p.handle.SParameters(ctx, setup.Name, sweep.Name)
	require.NoError(t, err)
	remoteFF, err := p.handle.FarField(ctx, setup.Name, 2.4e9, engine.DefaultGrid())
	require.NoError(t, err)

	local, err := cavity.New(cavity.WithClock(fixedClock)).Open(ctx)
	require.NoError(t, err)
	defer local.Close()
	require.NoError(t, local.Apply(ctx, seq))
	require.NoError(t, local.Configure(ctx, setup, sweep))
	require.NoError(t, local.Solve(ctx))
	want, err := local.SParameters(ctx, setup.Name, sweep.Name)
	require.NoError(t, err)
	wantFF, err := local.FarField(ctx, setup.Name, 2.4e9, engine.DefaultGrid())
	require.NoError(t, err)

	assert.Equal(t, want.Frequencies, remote.Frequencies)
	assert.Equal(t, want.Matrices, remote.Matrices)
	assert.True(t, want.SolvedAt.Equal(remote.SolvedAt))
	assert.Equal(t, wantFF.Samples, remoteFF.Samples)

	require.NoError(t, p.handle.Close())
	require.NoError(t, <-p.serveErr)
}

func TestRemoteLaunchErrorKeepsKind(t *testing.T) {
	p := connect(t, cavity.New(cavity.WithLaunchFailures(engine.LicenseUnavailable, 1)))
	require.Error(t, p.dialErr)
	assert.Equal(t, engine.LicenseUnavailable, engine.KindOf(p.dialErr))
	assert.True(t, engine.IsTransient(p.dialErr))
	p.toServer.Close()
	<-p.serveErr
}

func TestRemoteNoSolution(t *testing.T) {
	p := connect(t, cavity.New())
	require.NoError(t, p.dialErr)
	defer p.handle.Close()

	_, err := p.handle.SParameters(context.Background(), "Setup1", "Sweep1")
	assert.True(t, errors.Is(err, engine.ErrNoSolution), "err = %v", err)
}

func TestCancelledSolveAbortsRemote(t *testing.T) {
	eng := cavity.New(cavity.WithPassDuration(50 * time.Millisecond))
	p := connect(t, eng)
	require.NoError(t, p.dialErr)

	ctx := context.Background()
	require.NoError(t, p.handle.Apply(ctx, sequence(t)))
	require.NoError(t, p.handle.Configure(ctx, setup, sweep))

	solveCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := p.handle.Solve(solveCtx)
	assert.Equal(t, engine.Aborted, engine.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = p.handle.SParameters(ctx, setup.Name, sweep.Name)
	assert.ErrorIs(t, err, engine.ErrNoSolution)

	require.NoError(t, p.handle.Close())
	require.NoError(t, <-p.serveErr)
	assert.Equal(t, 0, eng.SeatsInUse())
}

func TestBrokenPipeIsConnectivity(t *testing.T) {
	p := connect(t, cavity.New())
	require.NoError(t, p.dialErr)

	p.toClient.CloseWithError(io.ErrClosedPipe)

	assert.Eventually(t, func() bool {
		err := p.handle.Apply(context.Background(), sequence(t))
		return engine.KindOf(err) == engine.Connectivity
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, p.handle.Close())
}
