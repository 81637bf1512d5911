// Package session makes engine sessions an explicit, poolable resource.
// A Pool bounds the number of concurrently open sessions to the licence
// seats available; a Lease is the exclusive right to one open session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/patchsim/internal/engine"
)

var ErrPoolClosed = errors.New("session: pool closed")

type Pool struct {
	eng   engine.Engine
	slots chan struct{}

	mu     sync.Mutex
	leases map[uuid.UUID]*Lease
	closed bool
}

// NewPool limits eng to size concurrent sessions. size < 1 is treated as 1.
func NewPool(eng engine.Engine, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		eng:    eng,
		slots:  make(chan struct{}, size),
		leases: make(map[uuid.UUID]*Lease),
	}
}

func (p *Pool) Engine() engine.Engine { return p.eng }

func (p *Pool) Size() int { return cap(p.slots) }

// InUse is the number of leases not yet released.
func (p *Pool) InUse() int { return len(p.slots) }

// Acquire waits for a free slot, then opens a session on the engine. A
// failed Open returns the slot before reporting the error.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h, err := p.eng.Open(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	l := &Lease{
		ID:         uuid.New(),
		AcquiredAt: time.Now(),
		pool:       p,
		handle:     h,
	}
	p.mu.Lock()
	p.leases[l.ID] = l
	p.mu.Unlock()
	return l, nil
}

// Close releases every outstanding lease and refuses further acquisitions.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	leases := make([]*Lease, 0, len(p.leases))
	for _, l := range p.leases {
		leases = append(leases, l)
	}
	p.mu.Unlock()

	var errs []error
	for _, l := range leases {
		errs = append(errs, l.Release())
	}
	return errors.Join(errs...)
}

func (p *Pool) forget(id uuid.UUID) {
	p.mu.Lock()
	delete(p.leases, id)
	p.mu.Unlock()
	<-p.slots
}

// Lease is exclusive ownership of one engine session.
type Lease struct {
	ID         uuid.UUID
	AcquiredAt time.Time

	pool   *Pool
	handle engine.Handle

	once sync.Once
	err  error
}

func (l *Lease) Handle() engine.Handle { return l.handle }

// Release closes the session and frees its slot. Only the first call has
// any effect; later calls return the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.handle.Close()
		l.pool.forget(l.ID)
	})
	return l.err
}

// Released reports whether Release has run.
func (l *Lease) Released() bool {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	_, live := l.pool.leases[l.ID]
	return !live
}
