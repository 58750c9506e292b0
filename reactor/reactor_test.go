package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timoknapp/enverproxy-mqtt/session"
)

func TestReactorAcceptsAndPairsConnections(t *testing.T) {
	dial := func(ctx context.Context) (net.Conn, error) {
		return nil, net.ErrClosed
	}
	mgr := session.NewManager(4096, 50*time.Millisecond, dial, nil, nil, nil)

	r, err := New("127.0.0.1:0", mgr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer cancel()

	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		paired, simulating := mgr.Count()
		return paired+simulating == 1
	}, time.Second, 5*time.Millisecond)
}
