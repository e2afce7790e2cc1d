package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/config"
	"github.com/1broseidon/gitshelf/internal/logging"
)

// Manager routes each request to the right transport and owns all
// transport state. Handlers never touch the session table or the push
// singleton directly.
type Manager struct {
	factory Factory
	slow    time.Duration
	log     *logrus.Entry

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	sessions map[string]Session

	// createMu serializes session creation. The id is unknown until the
	// transport exists, so creation cannot be keyed by session.
	createMu sync.Mutex

	// establishMu orders GET /sse requests so the previous connection is
	// torn down before the next becomes addressable.
	establishMu sync.Mutex
	pushMu      sync.Mutex
	push        Push
	connecting  chan struct{}

	srvMu     sync.Mutex
	srv       *http.Server
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithSlowThreshold sets the duration at which a request is logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Manager) { m.slow = d }
}

// WithLogger replaces the manager's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns a manager that creates transports with factory.
func NewManager(factory Factory, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:    factory,
		slow:       config.DefaultSlowCallMs * time.Millisecond,
		log:        logging.NewLogger("transport"),
		baseCtx:    ctx,
		cancelBase: cancel,
		sessions:   make(map[string]Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HasPush reports whether a push connection is live.
func (m *Manager) HasPush() bool {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	return m.push != nil
}

// tracker records whether any response bytes were sent and which status.
type tracker struct {
	wrote  atomic.Bool
	status atomic.Int32
}

func (t *tracker) mark(code int) {
	t.status.CompareAndSwap(0, int32(code))
	t.wrote.Store(true)
}

// Status returns the response status, or 0 if nothing was written.
func (t *tracker) Status() int {
	return int(t.status.Load())
}

func track(w http.ResponseWriter) (http.ResponseWriter, *tracker) {
	t := &tracker{}
	hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				t.mark(code)
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				t.mark(http.StatusOK)
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				t.mark(http.StatusOK)
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				t.mark(http.StatusOK)
				next()
			}
		},
	})
	return hooked, t
}

// ServeHTTP is the outermost request boundary. Nothing escapes it: errors
// and panics become "500 Error: <message>" when no response has started,
// and abort the connection otherwise.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w, tr := track(w)

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			m.fail(w, r, tr, fmt.Errorf("%v", rec))
		}
		m.observe(r, start)
	}()

	if err := m.route(w, r, tr); err != nil {
		m.fail(w, r, tr, err)
	}
}

func (m *Manager) fail(w http.ResponseWriter, r *http.Request, tr *tracker, err error) {
	m.log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("Request failed")
	if tr.wrote.Load() {
		panic(http.ErrAbortHandler)
	}
	writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
}

// observe logs requests at or above the slow threshold. GET requests hold
// long-lived streams and are not timed.
func (m *Manager) observe(r *http.Request, start time.Time) {
	if r.Method == http.MethodGet {
		return
	}
	elapsed := time.Since(start)
	if elapsed < m.slow {
		return
	}
	m.log.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"duration_ms": elapsed.Milliseconds(),
	}).Warn("Slow request")
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}

func (m *Manager) route(w http.ResponseWriter, r *http.Request, tr *tracker) error {
	switch {
	case r.URL.Path == PathMCP:
		return m.handleMCP(w, r, tr)
	case r.URL.Path == PathSSE && r.Method == http.MethodGet:
		return m.handleSSE(w, r)
	case r.URL.Path == PathMessage && r.Method == http.MethodPost:
		return m.handleMessage(w, r)
	case r.URL.Path == PathHealth && r.Method == http.MethodGet:
		return m.handleHealth(w)
	default:
		writeText(w, http.StatusNotFound, "Not found")
		return nil
	}
}

func (m *Manager) handleHealth(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": m.SessionCount(),
		"push":     m.HasPush(),
	})
}

func (m *Manager) lookup(id string) Session {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) handleMCP(w http.ResponseWriter, r *http.Request, tr *tracker) error {
	if sess := m.lookup(r.Header.Get(SessionHeader)); sess != nil {
		switch r.Method {
		case http.MethodDelete:
			m.closeSession(sess)
			w.WriteHeader(http.StatusNoContent)
			return nil
		case http.MethodPost:
			if _, _, err := readBody(r); err != nil {
				return fmt.Errorf("failed to read request body: %w", err)
			}
		}
		sess.ServeHTTP(w, r)
		return nil
	}

	if r.Method != http.MethodPost {
		writeText(w, http.StatusNotFound, "Session not found")
		return nil
	}

	_, msg, err := readBody(r)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}

	sess, err := m.createSession()
	if err != nil {
		return err
	}
	sess.ServeHTTP(w, r)

	if !isInitialize(msg) || tr.Status() >= http.StatusBadRequest {
		m.log.WithField("session", sess.ID()).Debug("Discarding session without a completed handshake")
		m.closeSession(sess)
		return nil
	}
	m.log.WithField("session", sess.ID()).Info("Session created")
	return nil
}

// createSession builds a session and registers it before it serves its
// first request, so follow-up requests that race the handshake response
// already find it.
func (m *Manager) createSession() (Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	sess, err := m.factory.NewSession(m.baseCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	go func() {
		<-sess.Done()
		if m.forget(sess) {
			m.log.WithField("session", sess.ID()).Debug("Session closed")
		}
	}()
	return sess, nil
}

// forget removes sess from the table if it is still registered.
func (m *Manager) forget(sess Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[sess.ID()]; ok && cur == sess {
		delete(m.sessions, sess.ID())
		return true
	}
	return false
}

func (m *Manager) closeSession(sess Session) {
	m.forget(sess)
	if err := sess.Close(); err != nil {
		m.log.WithError(err).WithField("session", sess.ID()).Debug("Session close failed")
	}
}

// Start listens on addr and serves in the background. It returns the bound
// port, which is useful when addr asks for port 0.
func (m *Manager) Start(ctx context.Context, addr string) (int, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.srvMu.Lock()
	m.srv = srv
	m.srvMu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("HTTP server stopped")
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	m.log.WithField("addr", listener.Addr().String()).Info("MCP endpoint listening")
	return port, nil
}

// Close ends every live transport, ignoring individual failures, and then
// shuts the listener down.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		sessions := make([]Session, 0, len(m.sessions))
		for id, sess := range m.sessions {
			sessions = append(sessions, sess)
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		for _, sess := range sessions {
			_ = sess.Close()
		}

		m.pushMu.Lock()
		push := m.push
		m.push = nil
		m.pushMu.Unlock()
		if push != nil {
			_ = push.Close()
		}

		m.cancelBase()

		m.srvMu.Lock()
		srv := m.srv
		m.srvMu.Unlock()
		if srv == nil {
			return
		}
		if err = srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	})
	return err
}
