package crawlers

import (
	"context"
	"sync"
)

// SessionPool bounds the browser sessions a run keeps open at once. A slot
// is taken before a session starts and given back when it is closed, so
// every driver, lister and detail reader of a run shares the same limit.
type SessionPool struct {
	// one token per open session
	slots chan struct{}

	mu    sync.Mutex
	inUse int
	peak  int
}

// NewSessionPool creates a pool of size slots; size below 1 means 1
func NewSessionPool(size int) *SessionPool {
	if size < 1 {
		size = 1
	}
	return &SessionPool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done
func (sp *SessionPool) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sp.slots <- struct{}{}:
	}

	sp.mu.Lock()
	sp.inUse++
	if sp.inUse > sp.peak {
		sp.peak = sp.inUse
	}
	sp.mu.Unlock()
	return nil
}

// Release returns a slot taken by Acquire
func (sp *SessionPool) Release() {
	sp.mu.Lock()
	sp.inUse--
	sp.mu.Unlock()
	<-sp.slots
}

// CurrentSize sessions open right now
func (sp *SessionPool) CurrentSize() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.inUse
}

// MaxSize configured limit
func (sp *SessionPool) MaxSize() int {
	return cap(sp.slots)
}

// Peak highest number of sessions open at the same time
func (sp *SessionPool) Peak() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.peak
}

// releaseOnce gives the slot back on the first Close only
type releaseOnce struct {
	once sync.Once
	pool *SessionPool
}

func (r *releaseOnce) release() {
	r.once.Do(r.pool.Release)
}

type pooledDriver struct {
	PageDriver
	slot *releaseOnce
}

func (d *pooledDriver) Close() error {
	defer d.slot.release()
	return d.PageDriver.Close()
}

type pooledLister struct {
	BatchLister
	slot *releaseOnce
}

func (d *pooledLister) Close() error {
	defer d.slot.release()
	return d.BatchLister.Close()
}

type pooledReader struct {
	DetailReader
	slot *releaseOnce
}

func (r *pooledReader) Close() error {
	defer r.slot.release()
	return r.DetailReader.Close()
}

// PageDriver ties a slot taken by Acquire to d; closing d releases it
func (sp *SessionPool) PageDriver(d PageDriver) PageDriver {
	return &pooledDriver{PageDriver: d, slot: &releaseOnce{pool: sp}}
}

// BatchLister ties a slot taken by Acquire to d
func (sp *SessionPool) BatchLister(d BatchLister) BatchLister {
	return &pooledLister{BatchLister: d, slot: &releaseOnce{pool: sp}}
}

// DetailReader ties a slot taken by Acquire to r
func (sp *SessionPool) DetailReader(r DetailReader) DetailReader {
	return &pooledReader{DetailReader: r, slot: &releaseOnce{pool: sp}}
}
