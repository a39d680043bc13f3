// Package daemon runs the transcription service: the segment queue, its
// observers and the control surfaces in front of it.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/segscribe/internal/api"
	"github.com/leonardotrapani/segscribe/internal/bus"
	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/notify"
	"github.com/leonardotrapani/segscribe/internal/progress"
	"github.com/leonardotrapani/segscribe/internal/queue"
	"github.com/leonardotrapani/segscribe/internal/store"
)

const amqpDialTimeout = 30 * time.Second

type Daemon struct {
	config     *config.Manager
	components Components
	version    string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	hub      *notify.Hub
	progress *progress.Aggregator
	queue    *queue.Queue
	api      *api.Server
}

func New(cfg *config.Manager, c Components, version string, logger zerolog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:     cfg,
		components: c,
		version:    version,
		logger:     logger.With().Str("component", "daemon").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		hub:        notify.NewHub(logger),
	}

	current := cfg.GetConfig()
	d.queue = queue.New(current.ToQueueConfig(), queue.Deps{
		Gateway: c.Gateway,
		Files:   c.Files,
		Keys:    c.Keys,
		Cloud:   c.Cloud,
		Local:   c.Local,
		Events:  d.hub,
		Logger:  logger,
	})
	d.progress = progress.New(c.Gateway, d.queue.Pending, logger)
	d.hub.Subscribe(d.progress)
	d.hub.Subscribe(notifier(current, logger))

	d.api = api.New(api.Deps{
		Gateway:  c.Gateway,
		Files:    c.Files,
		Queue:    d.queue,
		Progress: d.progress,
		Logger:   logger,
	})

	cfg.OnChange(d.applyConfig)
	return d
}

func notifier(cfg *config.Config, logger zerolog.Logger) notify.Subscriber {
	if !cfg.Notifications.Enabled {
		return notify.Nop{}
	}
	switch cfg.Notifications.Type {
	case "desktop":
		return notify.Desktop{Logger: logger}
	case "log":
		return notify.Log{Logger: logger}
	default:
		return notify.Nop{}
	}
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.queue.SetConfig(cfg.ToQueueConfig())
	d.logger.Info().
		Dur("tick", cfg.Queue.TickInterval).
		Int("max_retries", cfg.Queue.MaxRetries).
		Msg("queue policy updated")
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	d.cancel()
}

func (d *Daemon) Run() error {
	if err := bus.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := bus.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := bus.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer bus.RemovePidFile()

	ctx, stop := signal.NotifyContext(d.ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg := d.config.GetConfig()
	if err := d.config.StartWatching(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("config hot reload disabled")
	} else {
		defer d.config.Stop()
	}
	if w, ok := d.components.Keys.(watcher); ok {
		if err := w.Watch(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("api key watching disabled")
		} else {
			defer w.Stop()
		}
	}

	if cfg.Events.AMQP.Enabled {
		if publisher := d.dialAMQP(ctx, cfg); publisher != nil {
			defer publisher.Close()
			d.hub.Subscribe(publisher)
		}
	}

	d.queue.Run(ctx)
	defer d.queue.Stop()
	if err := d.requeueUnfinished(ctx); err != nil {
		d.logger.Error().Err(err).Msg("failed to requeue unfinished segments")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		g.Go(func() error {
			return d.api.Serve(gctx, cfg.API.Listen)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		return d.accept(gctx, ln)
	})

	d.logger.Info().Str("version", d.version).Msg("daemon started, listening on socket")
	err = g.Wait()
	d.logger.Info().Msg("daemon stopped")
	return err
}

func (d *Daemon) dialAMQP(ctx context.Context, cfg *config.Config) *notify.AMQP {
	dialCtx, cancel := context.WithTimeout(ctx, amqpDialTimeout)
	defer cancel()

	publisher, err := notify.DialAMQP(d.logger.WithContext(dialCtx), cfg.ToAMQPConfig())
	if err != nil {
		d.logger.Error().Err(err).Msg("amqp events disabled")
		return nil
	}
	return publisher
}

// requeueUnfinished puts every non-terminal segment back in the queue.
// Segments a previous run left mid-call restart from pending.
func (d *Daemon) requeueUnfinished(ctx context.Context) error {
	segments, err := d.components.Gateway.UnfinishedSegments(ctx)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		if seg.Status != store.StatusPending {
			if err := d.components.Gateway.UpdateSegmentStatus(ctx, seg.ID, store.StatusPending, seg.RetryCount); err != nil {
				d.logger.Error().Err(err).Str("segment", seg.ID).Msg("failed to reset interrupted segment")
				continue
			}
			seg.Status = store.StatusPending
		}
		d.queue.Enqueue(seg)
	}
	if len(segments) > 0 {
		d.logger.Info().Int("segments", len(segments)).Msg("requeued unfinished segments")
	}
	return nil
}

func (d *Daemon) accept(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info().Msg("shutdown requested")
				return nil
			}
			d.logger.Error().Err(err).Msg("accept error")
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		d.logger.Warn().Err(err).Msg("client read error")
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStatus:
		stats := d.queue.Stats()
		counters := d.progress.Snapshot().Counters
		fmt.Fprintf(c, "STATUS pending=%d inflight=%t paused=%t completed=%d failed=%d\n",
			stats.Pending, stats.InFlight, stats.Paused, counters.Completed, counters.Failed)
	case bus.CmdPause:
		d.queue.Pause()
		fmt.Fprint(c, "OK paused\n")
	case bus.CmdResume:
		d.queue.Resume()
		fmt.Fprint(c, "OK resumed\n")
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s version=%s\n", bus.ProtoVer, d.version)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		d.logger.Warn().Str("cmd", string(cmd)).Msg("unknown command")
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}
