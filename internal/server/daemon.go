package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/api"
	"github.com/jarvis-automation/jarvis/internal/natsserver"
	"github.com/jarvis-automation/jarvis/internal/registry"
	"github.com/jarvis-automation/jarvis/internal/relay"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Daemon is the jarvisd process.
type Daemon struct {
	cfg       Config
	logger    zerolog.Logger
	nats      *natsserver.Server
	nc        *nats.Conn // external bus, when not embedded
	sub       *nats.Subscription
	relay     *relay.Relay
	http      *http.Server
	addr      string
	cancel    context.CancelFunc
	startedAt time.Time
	ready     chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewDaemon creates a Daemon from config.
func NewDaemon(cfg Config, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Run starts all subsystems and blocks until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()

	// 1. Event bus.
	pub, err := d.startEvents()
	if err != nil {
		return err
	}

	// 2. Registry and relay.
	reg := registry.New(d.logger)
	d.relay = relay.New(reg, relay.Config{
		CommandTimeout: d.cfg.Relay.CommandTimeout,
		MaxMessageSize: d.cfg.Relay.MaxMessageSize,
	}, pub, d.logger)

	// 3. HTTP listener: status API plus the websocket endpoint.
	apiSrv := api.New(reg, d.startedAt, pub != nil, d.logger)
	if err := d.feedEvents(apiSrv.Events()); err != nil {
		d.shutdown()
		return err
	}
	mux := http.NewServeMux()
	apiSrv.Mount(mux)
	mux.Handle("/ws", d.relay)
	mux.Handle("/", d.relay)

	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		d.shutdown()
		return fmt.Errorf("listen %s: %w", d.cfg.Server.Listen, err)
	}
	d.addr = ln.Addr().String()
	baseCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Cancelled on shutdown so event streams end.
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()

	d.logger.Info().
		Str("listen", d.addr).
		Dur("command_timeout", d.cfg.Relay.CommandTimeout).
		Msg("jarvisd started")
	close(d.ready)

	// 4. Wait for signal, stop call, or listener error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("stop requested, shutting down")
	case err := <-httpErrCh:
		d.logger.Error().Err(err).Msg("HTTP server error")
	}

	return d.shutdown()
}

// startEvents brings up the lifecycle event bus. A nil publisher disables
// events.
func (d *Daemon) startEvents() (relay.Publisher, error) {
	cfg := d.cfg.NATS
	switch {
	case cfg.Embedded:
		ns, err := natsserver.New(natsserver.Config{
			Host:  cfg.Host,
			Port:  cfg.Port,
			Token: cfg.Token,
		}, d.logger)
		if err != nil {
			return nil, fmt.Errorf("start nats: %w", err)
		}
		d.nats = ns
		return ns.Conn(), nil
	case cfg.URL != "":
		var opts []nats.Option
		if cfg.Token != "" {
			opts = append(opts, nats.Token(cfg.Token))
		}
		nc, err := nats.Connect(cfg.URL, append(opts, nats.MaxReconnects(-1))...)
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
		}
		d.nc = nc
		return nc, nil
	default:
		d.logger.Warn().Msg("no event bus configured, lifecycle events disabled")
		return nil, nil
	}
}

// feedEvents copies every lifecycle event on the bus into the API's event
// stream.
func (d *Daemon) feedEvents(bus *api.EventBus) error {
	var nc *nats.Conn
	switch {
	case d.nats != nil:
		nc = d.nats.Conn()
	case d.nc != nil:
		nc = d.nc
	default:
		return nil
	}
	sub, err := nc.Subscribe(protocol.SubjectEventsAll, func(msg *nats.Msg) {
		bus.Publish(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	d.sub = sub
	return nil
}

// Ready is closed once the daemon is accepting connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the listener address. Valid after Ready.
func (d *Daemon) Addr() string { return d.addr }

// Stop signals the daemon to shut down. Safe to call from another goroutine.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// NATSClientURL returns the embedded NATS server's client URL.
func (d *Daemon) NATSClientURL() string {
	if d.nats == nil {
		return ""
	}
	return d.nats.ClientURL()
}

// NATSConnectOpts returns NATS connection options for in-process connections.
func (d *Daemon) NATSConnectOpts() []nats.Option {
	if d.nats == nil {
		return nil
	}
	return []nats.Option{nats.InProcessServer(d.nats.NATSServer())}
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.cancel != nil {
		d.cancel()
	}
	if d.http != nil {
		d.http.Shutdown(ctx)
	}
	if d.sub != nil {
		d.sub.Unsubscribe()
	}
	if d.relay != nil {
		d.relay.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	if d.nc != nil {
		d.nc.Drain()
	}
	return nil
}
