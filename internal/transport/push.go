package transport

import (
	"fmt"
	"net/http"
)

// handleSSE establishes the push connection, replacing any existing one,
// and holds the GET open until the client leaves or the connection is
// replaced.
func (m *Manager) handleSSE(w http.ResponseWriter, r *http.Request) error {
	m.establishMu.Lock()

	ready := make(chan struct{})
	m.pushMu.Lock()
	old := m.push
	m.push = nil
	m.connecting = ready
	m.pushMu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	push, err := m.factory.NewPush(r.Context(), w, r)

	m.pushMu.Lock()
	if err == nil {
		m.push = push
	}
	m.connecting = nil
	m.pushMu.Unlock()
	close(ready)
	m.establishMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to establish push connection: %w", err)
	}
	if old != nil {
		m.log.Debug("Push connection replaced")
	} else {
		m.log.Debug("Push connection established")
	}

	select {
	case <-r.Context().Done():
	case <-push.Done():
	case <-m.baseCtx.Done():
	}

	m.pushMu.Lock()
	if m.push == push {
		m.push = nil
	}
	m.pushMu.Unlock()
	_ = push.Close()
	return nil
}

// handleMessage forwards a POST to the live push connection, waiting for
// an in-flight establishment first.
func (m *Manager) handleMessage(w http.ResponseWriter, r *http.Request) error {
	m.pushMu.Lock()
	ready := m.connecting
	m.pushMu.Unlock()

	if ready != nil {
		select {
		case <-ready:
		case <-r.Context().Done():
			return nil
		}
	}

	m.pushMu.Lock()
	push := m.push
	m.pushMu.Unlock()
	if push == nil {
		writeText(w, http.StatusConflict, "No active SSE transport")
		return nil
	}

	if _, _, err := readBody(r); err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	push.ServeMessage(w, r)
	return nil
}
