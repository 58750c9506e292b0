// Package logging sets up the process-wide logrus logger per the
// verbosity and log_type configuration values: verbosity (0..5, higher is
// more detail) maps to a logrus level, and log_type selects the
// destination the original implementation's slog collaborator supported:
// sys.stdout, syslog, or a remote line-oriented log collector.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogType is one of the three destinations config.log_type may name.
type LogType string

const (
	Stdout LogType = "sys.stdout"
	Syslog LogType = "syslog"
	Remote LogType = "remote"
)

// Setup configures the shared logrus logger. verbosity is clamped to
// 0..5; logAddress/logPort are only consulted when logType is Remote.
func Setup(verbosity int, logType LogType, logAddress string, logPort int) error {
	log.SetLevel(verbosityToLevel(verbosity))
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	switch logType {
	case Syslog:
		writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "enverproxy-mqtt")
		if err != nil {
			return fmt.Errorf("logging: syslog dial failed: %w", err)
		}
		log.SetOutput(writer)
	case Remote:
		conn, err := net.DialTimeout("udp", fmt.Sprintf("%s:%d", logAddress, logPort), 5*time.Second)
		if err != nil {
			return fmt.Errorf("logging: remote log dial failed: %w", err)
		}
		log.SetOutput(&lineWriter{conn: conn})
	case Stdout, "":
		// logrus defaults to os.Stderr; the original defaults to stdout.
		log.SetOutput(os.Stdout)
	default:
		return fmt.Errorf("logging: unknown log_type %q", logType)
	}
	return nil
}

// verbosityToLevel maps the 0..5 verbosity scale (higher = more detail) to
// a logrus level, 0 being the quietest (errors only).
func verbosityToLevel(verbosity int) log.Level {
	switch {
	case verbosity <= 0:
		return log.ErrorLevel
	case verbosity == 1:
		return log.WarnLevel
	case verbosity == 2:
		return log.InfoLevel
	case verbosity == 3:
		return log.DebugLevel
	default:
		return log.TraceLevel
	}
}

// lineWriter forwards each Write as a best-effort datagram to a remote
// collector, swallowing send errors the way the original's remote log
// handler treats a down collector as non-fatal.
type lineWriter struct {
	conn net.Conn
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.conn.Write(p)
	return len(p), nil
}

var _ io.Writer = (*lineWriter)(nil)
