// Package push maintains the server-sent-events channel that delivers
// new-message notifications. One connection is held per authenticated
// session and fanned out to any number of registered listeners; events
// missed while disconnected are gone (at-most-once, no gap recovery).
package push

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmterm/internal/models"
	"dmterm/internal/session"
)

// retryDelay between transport reconnect attempts, mirroring the
// EventSource default.
const retryDelay = 3 * time.Second

// Manager owns the push connection and its listener set.
type Manager struct {
	baseURL string
	session *session.Store
	logger  *log.Logger

	// No timeout: the stream stays open for the life of the session.
	httpClient *http.Client

	mu        sync.Mutex
	listeners map[string]func(models.Message)
	cancel    context.CancelFunc

	// deliverMu serializes delivery against listener removal so that no
	// callback runs after Listener.Close returns.
	deliverMu sync.RWMutex
}

// Listener is a registered callback's removal handle.
type Listener struct {
	id   string
	m    *Manager
	once sync.Once
}

// Close removes the listener. Idempotent; once it returns the callback
// will not be invoked again. Must not be called from inside the
// callback itself.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.m.deliverMu.Lock()
		l.m.mu.Lock()
		delete(l.m.listeners, l.id)
		l.m.mu.Unlock()
		l.m.deliverMu.Unlock()
	})
}

// NewManager creates a manager for the given backend origin. No
// connection is opened until the first Subscribe.
func NewManager(baseURL string, sess *session.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		session:    sess,
		logger:     logger,
		httpClient: &http.Client{},
		listeners:  map[string]func(models.Message){},
	}
}

// Subscribe registers fn and lazily opens the channel on first use. The
// token is captured as a query parameter at connect time; a later token
// change does not migrate the open connection (see Reset). A failure to
// open the channel is returned and nothing is registered.
func (m *Manager) Subscribe(fn func(models.Message)) (*Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		if err := m.open(); err != nil {
			return nil, err
		}
	}

	l := &Listener{id: uuid.NewString(), m: m}
	m.listeners[l.id] = fn
	return l, nil
}

// Reset closes the current connection, if any. The next Subscribe dials
// again with the session's current token. Call after login or logout.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// open dials the stream synchronously so setup failures reach the
// subscriber, then hands the response body to a reader goroutine.
// Callers hold m.mu.
func (m *Manager) open() error {
	streamURL := m.streamURL()

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := m.connect(ctx, streamURL)
	if err != nil {
		cancel()
		return err
	}

	m.cancel = cancel
	go m.run(ctx, streamURL, resp)
	return nil
}

func (m *Manager) streamURL() string {
	u := m.baseURL + "/api/messages"
	if m.session.IsAuthenticated() {
		u += "?token=" + url.QueryEscape(m.session.Token())
	}
	return u
}

func (m *Manager) connect(ctx context.Context, streamURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create push request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not open push channel: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("push channel rejected: %s", resp.Status)
	}
	return resp, nil
}

// run consumes the stream and redials on transport loss until the
// context is canceled. Events missed between connections are not
// recovered.
func (m *Manager) run(ctx context.Context, streamURL string, resp *http.Response) {
	for {
		m.consume(resp)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}

		var err error
		resp, err = m.connect(ctx, streamURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Printf("push reconnect failed: %v", err)
			// Synthesize a closed stream so the loop waits and retries.
			resp = &http.Response{Body: http.NoBody}
		}
	}
}

// consume reads one connection's worth of events. SSE framing: "data:"
// lines accumulate until a blank line terminates the event; other
// fields are ignored.
func (m *Manager) consume(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() != 0 {
				m.dispatch(data.Bytes())
				data.Reset()
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(rest, " "))
		}
	}
}

// dispatch parses one event payload and fans it out. Malformed payloads
// are logged and dropped; they never reach a listener.
func (m *Manager) dispatch(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Printf("could not parse push event as JSON: %v", err)
		return
	}

	m.deliverMu.RLock()
	defer m.deliverMu.RUnlock()

	m.mu.Lock()
	fns := make([]func(models.Message), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
