package natsx

import (
	"context"
	"sync"
	"time"
)

const HeaderMsgID = "Nats-Msg-Id"

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// memIdem is a single-process IdemStore. Expired keys are purged lazily.
type memIdem struct {
	mu      sync.Mutex
	m       map[string]time.Time // key -> expiry
	ttl     time.Duration
	now     func() time.Time
	nextGC  time.Time
	gcEvery time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return newMemIdem(defaultTTL, time.Now)
}

func newMemIdem(defaultTTL time.Duration, now func() time.Time) *memIdem {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: now, gcEvery: time.Minute}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if now.After(mi.nextGC) {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.nextGC = now.Add(mi.gcEvery)
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *memIdem) size() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return len(mi.m)
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware drops messages whose id was already handled within ttl.
// Messages without an id header always pass: identical bodies are distinct
// commands.
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			if seen, _ := store.SeenOnce(id, ttl); seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
