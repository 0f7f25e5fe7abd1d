package usage

import (
	"context"
	"sync"
	"time"
)

const (
	// defaultLeaseTTL bounds how long a crashed process can block a post.
	// Holders renew the lease before every image.
	defaultLeaseTTL  = 10 * time.Minute
	defaultLeasePoll = 250 * time.Millisecond
)

// postLocks hands out one mutex per post ID. Entries are dropped once no
// goroutine holds or waits for them.
type postLocks struct {
	mu    sync.Mutex
	locks map[int64]*postLock
}

type postLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the caller holds the post's lock and returns the
// function that releases it.
func (p *postLocks) lock(postID int64) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[int64]*postLock)
	}
	l, ok := p.locks[postID]
	if !ok {
		l = &postLock{}
		p.locks[postID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, postID)
		}
		p.mu.Unlock()
	}
}

// hold serializes work on a post: first between goroutines of this process,
// then through a lease in the store that other processes on the same
// database honour. The returned function releases both.
func (r *Reporter) hold(ctx context.Context, postID int64) (func(), error) {
	unlock := r.locks.lock(postID)
	for {
		ok, err := r.deps.Store.AcquirePostLease(postID, r.owner, r.leaseTTL)
		if err != nil {
			unlock()
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
	return func() {
		if err := r.deps.Store.ReleasePostLease(postID, r.owner); err != nil {
			r.logger.Warn("releasing post lease failed", "post_id", postID, "error", err)
		}
		unlock()
	}, nil
}

// renew extends a held lease so long attempts keep it.
func (r *Reporter) renew(postID int64) {
	if ok, err := r.deps.Store.AcquirePostLease(postID, r.owner, r.leaseTTL); err != nil || !ok {
		r.logger.Warn("renewing post lease failed", "post_id", postID, "error", err)
	}
}
