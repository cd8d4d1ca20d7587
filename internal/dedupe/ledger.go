// ABOUTME: Scoped ledger of claimed keys with TTL expiry and LRU size bound
// ABOUTME: Claim is atomic so concurrent executors cannot both win the same key

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	scope   string
	key     string
	claimed time.Time
	elem    *list.Element
}

// Ledger tracks claimed (scope, key) pairs. Entries expire after ttl and the
// oldest entry is dropped once maxSize is reached.
type Ledger struct {
	mu      sync.Mutex
	scopes  map[string]map[string]*entry
	order   *list.List // oldest claim at front
	size    int
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a ledger and starts its background expiry sweep.
func New(ttl time.Duration, maxSize int) *Ledger {
	l := &Ledger{
		scopes:  make(map[string]map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweep(sweepInterval(ttl))
	return l
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > time.Minute {
		return time.Minute
	}
	return ttl
}

// Claim records key within scope. It returns true when the caller is the
// first to claim it and false when the key is already held.
func (l *Ledger) Claim(scope, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.lookup(scope, key); e != nil {
		if !l.expired(e) {
			return false
		}
		l.remove(e)
	}

	if l.maxSize > 0 && l.size >= l.maxSize {
		if front := l.order.Front(); front != nil {
			l.remove(front.Value.(*entry))
		}
	}

	e := &entry{scope: scope, key: key, claimed: l.now()}
	e.elem = l.order.PushBack(e)
	keys, ok := l.scopes[scope]
	if !ok {
		keys = make(map[string]*entry)
		l.scopes[scope] = keys
	}
	keys[key] = e
	l.size++
	return true
}

// Seen reports whether key is currently claimed within scope.
func (l *Ledger) Seen(scope, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.lookup(scope, key)
	return e != nil && !l.expired(e)
}

// Forget drops every claim held by scope.
func (l *Ledger) Forget(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.scopes[scope] {
		l.order.Remove(e.elem)
		l.size--
	}
	delete(l.scopes, scope)
}

// Len returns the number of live claims.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *Ledger) lookup(scope, key string) *entry {
	return l.scopes[scope][key]
}

func (l *Ledger) expired(e *entry) bool {
	return l.ttl > 0 && l.now().Sub(e.claimed) >= l.ttl
}

// remove must be called with mu held.
func (l *Ledger) remove(e *entry) {
	l.order.Remove(e.elem)
	keys := l.scopes[e.scope]
	delete(keys, e.key)
	if len(keys) == 0 {
		delete(l.scopes, e.scope)
	}
	l.size--
}

func (l *Ledger) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.expire()
		case <-l.done:
			return
		}
	}
}

// expire walks from the oldest claim and stops at the first live one.
func (l *Ledger) expire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		e := front.Value.(*entry)
		if !l.expired(e) {
			return
		}
		l.remove(e)
	}
}

// Close stops the sweep. It is safe to call more than once.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
