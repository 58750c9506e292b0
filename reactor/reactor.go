// Package reactor owns the listening socket: it accepts inverter
// connections and hands each one to the session manager, which dials the
// upstream forward server and spawns the per-socket read loops.
//
// The distilled protocol's reactor is a single-threaded select() loop that
// also owns the busy-loop delay between readiness waits. In the
// goroutine-per-connection rewrite there is no readiness wait to pace, so
// the only loop left here is Accept's for-loop around net.Listener.Accept;
// see the session package for where the "delay" config value is actually
// spent (as the dial timeout of each upstream retry a simulating session
// makes on a client read).
package reactor

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/timoknapp/enverproxy-mqtt/session"
)

// Reactor accepts inverter connections on one listener and pairs each with
// the session manager.
type Reactor struct {
	listener net.Listener
	sessions *session.Manager
}

// New binds the listening socket. addr is host:port; backlog and address
// reuse are left to the runtime's default TCP listener, which on Linux
// already sets SO_REUSEADDR.
func New(addr string, sessions *session.Manager) (*Reactor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Reactor{listener: ln, sessions: sessions}, nil
}

// Run accepts connections until ctx is cancelled or the listener is
// closed. The listener is never closed except by ctx cancellation, per the
// invariant that it stays open for the reactor's entire run.
func (r *Reactor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Info("reactor: context done, closing listener")
		r.listener.Close()
	}()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Warnf("reactor: accept error: %v", err)
			continue
		}
		log.Infof("reactor: accepted connection from %s", conn.RemoteAddr())
		r.sessions.Accept(ctx, conn)
	}
}

// Addr returns the bound listening address, mainly for tests that bind to
// port 0.
func (r *Reactor) Addr() net.Addr {
	return r.listener.Addr()
}
