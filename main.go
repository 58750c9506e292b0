package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timoknapp/enverproxy-mqtt/adminhttp"
	"github.com/timoknapp/enverproxy-mqtt/config"
	"github.com/timoknapp/enverproxy-mqtt/logging"
	"github.com/timoknapp/enverproxy-mqtt/metrics"
	"github.com/timoknapp/enverproxy-mqtt/mqttpub"
	"github.com/timoknapp/enverproxy-mqtt/reactor"
	"github.com/timoknapp/enverproxy-mqtt/session"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "enverproxy-mqtt",
		Short: "TCP proxy and protocol dissector for Envertec microinverter bridges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, adminAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/enverproxy-mqtt.conf", "Path to config file")
	cmd.Flags().StringVar(&adminAddr, "admin-listen", "", "Optional address for the /healthz, /metrics, /stats HTTP surface")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})

	return cmd
}

func run(configPath, adminAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// ConfigError: missing file, section, or key. Fatal, exit code 1.
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg.Verbosity, logging.LogType(cfg.LogType), cfg.LogAddress, cfg.LogPort); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}

	log.Infof("Starting enverproxy-mqtt v%s", Version)
	log.Infof("  Listening on port %d, forwarding to %s:%d", cfg.ListenPort, cfg.ForwardIP, cfg.ForwardPort)
	log.Infof("  MQTT broker %s:%d", cfg.MQTTHost, cfg.MQTTPort)
	log.Infof("  %d inverters mapped to devices", len(cfg.ID2Device))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reg := metrics.New()

	publisher, err := mqttpub.New(mqttpub.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPass,
	})
	if err != nil {
		log.Warnf("MQTT: initial connect failed, publishing will retry in the background: %v", err)
	}
	defer publisher.Close()

	dialUpstream := func(dialCtx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: 5 * time.Second}
		return d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", cfg.ForwardIP, cfg.ForwardPort))
	}

	retryBackoff := time.Duration(cfg.Delay * float64(time.Second))
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}

	sessions := session.NewManager(cfg.BufferSize, retryBackoff, dialUpstream, cfg.ID2Device, publisher, reg)

	rx, err := reactor.New(fmt.Sprintf(":%d", cfg.ListenPort), sessions)
	if err != nil {
		return fmt.Errorf("failed to bind listener: %w", err)
	}

	admin := adminhttp.New(adminAddr, sessions, func() bool { return true })

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		sessions.CloseAll()
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- rx.Run(ctx) }()
	go func() { errCh <- admin.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Errorf("component exited: %v", err)
		}
		cancel()
	}
	// Drain the remaining goroutine's completion.
	<-errCh
	return nil
}
