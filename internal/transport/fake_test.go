package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`

type fakeSession struct {
	id     string
	status int

	mu     sync.Mutex
	bodies []string
	once   sync.Once
	done   chan struct{}
	closed bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	status := s.status
	s.mu.Unlock()

	w.Header().Set(SessionHeader, s.id)
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, "ok")
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

type fakePush struct {
	name string

	mu       sync.Mutex
	messages []string
	once     sync.Once
	done     chan struct{}
}

func (p *fakePush) ServeMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.messages = append(p.messages, string(body))
	p.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (p *fakePush) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePush) Done() <-chan struct{} { return p.done }

func (p *fakePush) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

// fakeFactory records everything it creates. Hooks run inside NewPush
// before the push is returned.
type fakeFactory struct {
	mu            sync.Mutex
	sessions      []*fakeSession
	pushes        []*fakePush
	events        []string
	sessionStatus int
	sessionErr    error
	pushErr       error
	beforePush    func()
}

func (f *fakeFactory) NewSession(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := &fakeSession{
		id:     fmt.Sprintf("session-%d", len(f.sessions)+1),
		status: f.sessionStatus,
		done:   make(chan struct{}),
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) NewPush(_ context.Context, w http.ResponseWriter, _ *http.Request) (Push, error) {
	if f.beforePush != nil {
		f.beforePush()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	p := &fakePush{name: fmt.Sprintf("push-%d", len(f.pushes)+1), done: make(chan struct{})}
	f.pushes = append(f.pushes, p)
	for _, old := range f.pushes[:len(f.pushes)-1] {
		select {
		case <-old.done:
		default:
			f.events = append(f.events, old.name+" still open")
		}
	}
	f.events = append(f.events, p.name+" established")

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "event: endpoint\ndata: "+PathMessage+"\n\n")
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	return p, nil
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeFactory) push(i int) *fakePush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[i]
}

func (f *fakeFactory) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newTestManager(f Factory, opts ...Option) (*Manager, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithLogger(logrus.NewEntry(logger))}, opts...)
	return NewManager(f, opts...), hook
}
