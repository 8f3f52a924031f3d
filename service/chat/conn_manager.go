package chat

import (
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

type ManagerConf struct {
	// UnauthTTL closes connections that have not authenticated within it.
	// Zero disables the sweeper.
	UnauthTTL  time.Duration
	SweepEvery time.Duration    // defaults to UnauthTTL/2, at least 100ms
	Clock      func() time.Time // nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.UnauthTTL < 0 {
		c.UnauthTTL = 0
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = c.UnauthTTL / 2
	}
	if c.SweepEvery < 100*time.Millisecond {
		c.SweepEvery = 100 * time.Millisecond
	}
}

// ConnManager tracks every live client connection, bound or not. The presence
// registry only sees authenticated ones.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*WsConn

	conf     ManagerConf
	log      *zap.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf, log *zap.Logger) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*WsConn),
		conf:   conf,
		log:    logger.OrNamed(log, "conn-manager"),
		stopCh: make(chan struct{}),
	}
	if conf.UnauthTTL > 0 {
		safe.Go("unauth-sweeper", m.sweeper)
	}
	return m
}

func (m *ConnManager) now() time.Time { return m.conf.Clock() }

func (m *ConnManager) Add(c *WsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ID()] = c
}

func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byConn, connID)
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// Counts returns the number of tracked connections per state.
func (m *ConnManager) Counts() map[ConnState]int {
	out := make(map[ConnState]int, 3)
	for _, c := range m.list() {
		out[c.State()]++
	}
	return out
}

func (m *ConnManager) list() []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.byConn))
	for _, c := range m.byConn {
		out = append(out, c)
	}
	return out
}

// CloseAll sends a close frame to every tracked connection. Their handlers
// then run the normal close path.
func (m *ConnManager) CloseAll(code int, reason string) int {
	conns := m.list()
	for _, c := range conns {
		c.CloseWithReason(code, reason)
	}
	return len(conns)
}

// Stop ends the sweeper. It does not close connections.
func (m *ConnManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.now())
		}
	}
}

// sweepOnce closes connections still unauthenticated after UnauthTTL and
// returns how many it closed. Sockets are closed outside the lock.
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	for _, c := range m.list() {
		if c.State() == StateConnected && now.Sub(c.CreatedAt()) >= m.conf.UnauthTTL {
			expired = append(expired, c)
		}
	}

	n := 0
	for _, c := range expired {
		if c.closeIfUnauthenticated("auth timeout") {
			n++
			m.log.Info("closed unauthenticated connection", zap.String("conn", c.ID()), zap.String("remote", c.Remote()))
		}
	}
	return n
}
