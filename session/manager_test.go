package session

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timoknapp/enverproxy-mqtt/codec"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic)
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func readWithTimeout(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, n)
	got, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:got]
}

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// Scenario 1 (session level): no upstream available, client receives a
// simulated handshake reply.
func TestAcceptNoUpstreamSimulatesHandshake(t *testing.T) {
	client, testSide := net.Pipe()
	defer testSide.Close()

	dial := func(ctx context.Context) (net.Conn, error) {
		return nil, net.ErrClosed
	}
	m := NewManager(4096, 50*time.Millisecond, dial, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Accept(ctx, client)

	frame := make([]byte, 48)
	copy(frame, hexBytes(t, "680030681006"))
	copy(frame[6:10], hexBytes(t, "94002953"))

	_, err := testSide.Write(frame)
	require.NoError(t, err)

	reply := readWithTimeout(t, testSide, 48)
	assert.Equal(t, hexBytes(t, "680030681007"), reply[:6])
	assert.Equal(t, frame[6:], reply[6:])
}

// Scenario 5: upstream dies mid-session; session downgrades to simulation
// and the client keeps receiving synthetic replies.
func TestUpstreamDeathDowngradesToSimulation(t *testing.T) {
	client, testSide := net.Pipe()
	defer testSide.Close()

	upstream, upstreamTest := net.Pipe()

	dialed := false
	dial := func(ctx context.Context) (net.Conn, error) {
		if dialed {
			return nil, net.ErrClosed
		}
		dialed = true
		return upstream, nil
	}

	m := NewManager(4096, 50*time.Millisecond, dial, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Accept(ctx, client)

	paired, simulating := m.Count()
	assert.Equal(t, 1, paired)
	assert.Equal(t, 0, simulating)

	// Kill the upstream side; the upstream readLoop's Read should error.
	upstreamTest.Close()

	require.Eventually(t, func() bool {
		_, sim := m.Count()
		return sim == 1
	}, time.Second, 5*time.Millisecond)

	// Client is still registered and gets a simulated reply.
	frame := make([]byte, 48)
	copy(frame, hexBytes(t, "680030681006"))
	copy(frame[6:10], hexBytes(t, "94002953"))
	_, err := testSide.Write(frame)
	require.NoError(t, err)

	reply := readWithTimeout(t, testSide, 48)
	assert.Equal(t, hexBytes(t, "680030681007"), reply[:6])
}

// flakyConn wraps a net.Conn and returns a non-PeerGone error (simulating a
// transient OtherSocketError, e.g. EINTR-class noise) on its first Read,
// then behaves normally.
type flakyConn struct {
	net.Conn
	tripped atomic.Bool
}

var errTransient = errors.New("transient socket hiccup")

func (f *flakyConn) Read(b []byte) (int, error) {
	if f.tripped.CompareAndSwap(false, true) {
		return 0, errTransient
	}
	return f.Conn.Read(b)
}

// A non-PeerGone read error must not close or downgrade the session: the
// manager logs it and keeps reading.
func TestOtherSocketErrorDoesNotCloseSession(t *testing.T) {
	rawClient, testSide := net.Pipe()
	defer testSide.Close()
	client := &flakyConn{Conn: rawClient}

	dial := func(ctx context.Context) (net.Conn, error) {
		return nil, net.ErrClosed
	}
	m := NewManager(4096, 50*time.Millisecond, dial, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Accept(ctx, client)

	paired, simulating := m.Count()
	assert.Equal(t, 0, paired)
	assert.Equal(t, 1, simulating)

	// The first client Read fails with a non-PeerGone error; after the
	// manager's pause it retries and this handshake should still reach the
	// client as a normal simulated reply.
	frame := make([]byte, 48)
	copy(frame, hexBytes(t, "680030681006"))
	copy(frame[6:10], hexBytes(t, "94002953"))
	_, err := testSide.Write(frame)
	require.NoError(t, err)

	testSide.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 48)
	got, err := testSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, hexBytes(t, "680030681007"), buf[:got][:6])

	_, simulating = m.Count()
	assert.Equal(t, 1, simulating, "session must survive a non-PeerGone read error")
}

func TestMaybePublishDropsUnmappedWRID(t *testing.T) {
	pub := &fakePublisher{}
	dial := func(ctx context.Context) (net.Conn, error) { return nil, net.ErrClosed }
	m := NewManager(4096, time.Second, dial, map[string]string{"11121314": "device1"}, pub, nil)

	m.maybePublish(codec.InverterRecord{WRID: "11121314", BRID: "00000000"})
	m.maybePublish(codec.InverterRecord{WRID: "ffffffff", BRID: "00000000"})

	assert.Equal(t, []string{"enverbridge/11121314"}, pub.topics())
}
