// Package session owns the pairing between each inverter (client)
// connection and its forward-server (upstream) connection, the per-pair
// simulate flag, and the teardown/downgrade-to-simulation transitions.
//
// The distilled protocol calls for a single-threaded select() reactor
// mutating three socket-keyed maps. This rewrite collapses those three
// maps into one Session record per pairing, referenced from a map keyed by
// a small integer ID, and runs one goroutine per live socket instead of a
// central readiness wait — the concurrency model sanctioned for
// thread-per-connection rewrites as long as the session table is mutated
// under a single serialization discipline. All mutation of a registered
// Session's fields happens under Manager.mu; fields are read without it
// only where no other goroutine can still write them (the immutable ID, or
// a session already removed from the map).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timoknapp/enverproxy-mqtt/codec"
	"github.com/timoknapp/enverproxy-mqtt/errs"
)

// State is the explicit per-session state machine named by the design
// notes: Pairing while an upstream dial is outstanding, Paired once both
// sockets forward transparently, Simulating once no upstream exists (either
// because the dial failed or because a live upstream later died).
type State int

const (
	Pairing State = iota
	Paired
	Simulating
)

func (s State) String() string {
	switch s {
	case Pairing:
		return "pairing"
	case Paired:
		return "paired"
	case Simulating:
		return "simulating"
	default:
		return "unknown"
	}
}

// Publisher is the telemetry sink. Implementations are permitted to fail
// asynchronously; the session manager treats publish errors as non-fatal.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Metrics is the optional observability sink. A nil Metrics is valid — the
// manager skips every metrics call when it is nil.
type Metrics interface {
	SessionOpened(simulating bool)
	SessionClosed(simulating bool)
	SessionDowngraded()
	FrameProcessed(direction, variant string)
	RecordPublished(wrid string)
	PublishFailed()
	UnknownFrame()
}

// Session is one client/upstream pairing.
type Session struct {
	ID       int
	Client   net.Conn
	Upstream net.Conn
	State    State
	cancel   context.CancelFunc
}

func (s *Session) simulating() bool {
	return s.State == Simulating
}

// Manager owns every live Session. It is the sole mutator of Session
// fields; callers outside this package only ever see copies or IDs.
type Manager struct {
	mu       sync.Mutex
	sessions map[int]*Session
	nextID   int64

	bufferSize   int
	retryBackoff time.Duration
	dialUpstream func(ctx context.Context) (net.Conn, error)
	id2device    map[string]string
	publisher    Publisher
	metrics      Metrics
}

// NewManager constructs a Manager. dialUpstream opens a fresh connection to
// the forward server; it is called once per accept and again on every
// client read of a simulating session, each retry with a dial timeout of
// retryBackoff.
func NewManager(bufferSize int, retryBackoff time.Duration, dialUpstream func(ctx context.Context) (net.Conn, error), id2device map[string]string, publisher Publisher, metrics Metrics) *Manager {
	return &Manager{
		sessions:     make(map[int]*Session),
		bufferSize:   bufferSize,
		retryBackoff: retryBackoff,
		dialUpstream: dialUpstream,
		id2device:    id2device,
		publisher:    publisher,
		metrics:      metrics,
	}
}

// Accept pairs a freshly accepted client connection with an upstream dial,
// registers the session and spawns its read loops. Mirrors accept(listener)
// in the design notes: a failed dial leaves the client registered and
// simulating rather than closing it.
func (m *Manager) Accept(ctx context.Context, client net.Conn) {
	id := int(atomic.AddInt64(&m.nextID, 1))
	sctx, cancel := context.WithCancel(ctx)

	sess := &Session{ID: id, Client: client, State: Pairing, cancel: cancel}

	upstream, err := m.dialUpstream(sctx)
	if err != nil {
		log.Warnf("session %d: upstream dial failed, simulating: %v", id, err)
		sess.State = Simulating
	} else {
		sess.Upstream = upstream
		sess.State = Paired
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionOpened(sess.State == Simulating)
	}

	go m.readLoop(sctx, id, true)
	if sess.State == Paired {
		go m.readLoop(sctx, id, false)
	}
}

// readLoop reads one socket (client if fromClient, else upstream) until it
// dies, feeding bytes to process.
func (m *Manager) readLoop(ctx context.Context, id int, fromClient bool) {
	buf := make([]byte, m.bufferSize)
	for {
		conn := m.connFor(id, fromClient)
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			if err == nil || errs.IsPeerGone(err) {
				if fromClient {
					m.closeSession(id)
					return
				}
				// upstream died: downgrade to simulation, keep the client.
				m.downgrade(id)
				return
			}
			// OtherSocketError: log and continue, no close. Pause briefly
			// to damp a tight error loop.
			log.Warnf("session %d: read error, continuing: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		m.process(ctx, id, fromClient, buf[:n])

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (m *Manager) connFor(id int, client bool) net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if client {
		return sess.Client
	}
	return sess.Upstream
}

// process implements the Session Manager's dissect/forward/reply logic for
// one read of data from either side of a session.
func (m *Manager) process(ctx context.Context, id int, fromClient bool, data []byte) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	simulating := sess.simulating()
	client := sess.Client
	upstream := sess.Upstream
	m.mu.Unlock()

	if fromClient && simulating {
		m.retryUpstream(ctx, id)
		// re-read state: retryUpstream may have paired the session.
		m.mu.Lock()
		if s, ok := m.sessions[id]; ok {
			simulating = s.simulating()
			upstream = s.Upstream
		}
		m.mu.Unlock()
	}

	variant := codec.Classify(data)
	direction := "upstream"
	if fromClient {
		direction = "client"
	}
	if m.metrics != nil {
		m.metrics.FrameProcessed(direction, variant.String())
	}

	if fromClient {
		m.dissectClientFrame(variant, sess.ID, data)
	} else {
		if variant == codec.Unknown {
			log.Debugf("session %d: unknown upstream frame", id)
			if m.metrics != nil {
				m.metrics.UnknownFrame()
			}
		} else {
			log.Debugf("session %d: upstream frame %s", id, variant)
		}
	}

	if !simulating {
		peer := upstream
		if !fromClient {
			peer = client
		}
		if peer != nil {
			if _, err := peer.Write(data); err != nil {
				log.Warnf("session %d: forward write failed: %v", id, err)
				if errs.IsPeerGone(err) {
					if fromClient {
						// the upstream write failed: downgrade.
						m.downgrade(id)
					} else {
						m.closeSession(id)
					}
				}
			}
		}
		return
	}

	if fromClient {
		m.replySimulated(id, client, variant, data)
	}
}

func (m *Manager) dissectClientFrame(variant codec.Variant, id int, frame []byte) {
	switch variant {
	case codec.HandshakeEVB:
		if len(frame) >= 40 {
			brid, _ := codec.BridgeID(frame)
			rec := codec.DecodeInverter(frame[20:40], brid)
			m.maybePublish(rec)
		}
	case codec.HandshakeEVT:
		// no embedded telemetry.
	default:
		if variant.IsPayload() {
			brid, _ := codec.BridgeID(frame)
			for _, block := range codec.IterPayloadBlocks(frame) {
				rec := codec.DecodeInverter(block, brid)
				m.maybePublish(rec)
			}
		} else if variant == codec.Unknown {
			log.Warnf("session %d: unknown client frame", id)
			if m.metrics != nil {
				m.metrics.UnknownFrame()
			}
		}
	}
}

func (m *Manager) maybePublish(rec codec.InverterRecord) {
	if rec.WRID == "00000000" {
		return
	}
	if m.id2device != nil {
		if _, known := m.id2device[rec.WRID]; !known {
			log.Warnf("dropping telemetry for unknown wrid %s", rec.WRID)
			return
		}
	}
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Warnf("failed to marshal record for wrid %s: %v", rec.WRID, err)
		return
	}
	topic := fmt.Sprintf("enverbridge/%s", rec.WRID)
	if err := m.publisher.Publish(topic, payload); err != nil {
		log.Warnf("publish failed for %s: %v", topic, err)
		if m.metrics != nil {
			m.metrics.PublishFailed()
		}
		return
	}
	if m.metrics != nil {
		m.metrics.RecordPublished(rec.WRID)
	}
}

func (m *Manager) replySimulated(id int, client net.Conn, variant codec.Variant, frame []byte) {
	var reply []byte
	switch {
	case variant == codec.HandshakeEVB || variant == codec.HandshakeEVT:
		reply = codec.BuildHandshakeReply(frame, time.Now())
	case variant.IsPayload():
		reply = codec.BuildPayloadAck(frame)
	default:
		return
	}
	if len(reply) == 0 {
		log.Debugf("session %d: empty synthetic reply for %s", id, variant)
		return
	}
	if _, err := client.Write(reply); err != nil {
		log.Warnf("session %d: simulated reply write failed: %v", id, err)
		if errs.IsPeerGone(err) {
			m.closeSession(id)
		}
	}
}

// retryUpstream attempts to open an upstream connection for a simulating
// session. It is called on every client read while simulating; each attempt
// is bounded by a dial timeout of retryBackoff.
func (m *Manager) retryUpstream(ctx context.Context, id int) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || !sess.simulating() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.retryBackoff)
	defer cancel()
	upstream, err := m.dialUpstream(dialCtx)
	if err != nil {
		return
	}

	m.mu.Lock()
	sess, ok = m.sessions[id]
	if !ok || sess.Upstream != nil {
		m.mu.Unlock()
		upstream.Close()
		return
	}
	sess.Upstream = upstream
	sess.State = Paired
	m.mu.Unlock()

	log.Infof("session %d: upstream reconnected, leaving simulation", id)
	if m.metrics != nil {
		m.metrics.SessionClosed(true)
		m.metrics.SessionOpened(false)
	}
	go m.readLoop(ctx, id, false)
}

// downgrade closes a session's upstream socket and flips it to simulating,
// keeping the client registered and connected.
func (m *Manager) downgrade(id int) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.simulating() {
		m.mu.Unlock()
		return
	}
	if sess.Upstream != nil {
		sess.Upstream.Close()
		sess.Upstream = nil
	}
	sess.State = Simulating
	m.mu.Unlock()

	log.Infof("session %d: upstream gone, downgrading to simulation", id)
	if m.metrics != nil {
		m.metrics.SessionDowngraded()
	}
}

// closeSession tears down a session entirely: its client, and any upstream
// still attached. Mirrors close(s) for a client socket in the design notes.
func (m *Manager) closeSession(id int) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	wasSimulating := sess.simulating()
	if sess.cancel != nil {
		sess.cancel()
	}
	if sess.Upstream != nil {
		sess.Upstream.Close()
	}
	if sess.Client != nil {
		sess.Client.Close()
	}
	log.Infof("session %d: closed", id)
	if m.metrics != nil {
		m.metrics.SessionClosed(wasSimulating)
	}
}

// CloseAll tears down every live session, tolerating sockets already closed
// by a cascade. Called on SIGTERM/interrupt.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.closeSession(id)
	}
}

// Count returns the number of live sessions split by mode, for the admin
// HTTP stats surface.
func (m *Manager) Count() (paired, simulating int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.simulating() {
			simulating++
		} else {
			paired++
		}
	}
	return paired, simulating
}
