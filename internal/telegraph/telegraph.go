package telegraph

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/zulandar/blockyard/internal/attachment"
	"github.com/zulandar/blockyard/internal/config"
	"github.com/zulandar/blockyard/internal/workflow"
	"gorm.io/gorm"
)

// Daemon is the main telegraph process. It connects to a chat platform via
// an Adapter, pumps inbound messages through the Router one at a time, and
// posts the daily digest to the configured channel.
type Daemon struct {
	db      *gorm.DB
	cfg     *config.Config
	adapter Adapter
	files   *attachment.Store
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB          *gorm.DB
	Config      *config.Config
	Adapter     Adapter
	Attachments *attachment.Store // optional; repair labels are not stored without it
	Out         io.Writer         // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("telegraph: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Attachments == nil {
		fmt.Fprintf(out, "telegraph: no attachment store configured; repair labels will not be stored\n")
	}
	return &Daemon{
		db:      opts.DB,
		cfg:     opts.Config,
		adapter: opts.Adapter,
		files:   opts.Attachments,
		out:     out,
	}, nil
}

// Run starts the telegraph daemon. It connects the adapter, builds the
// workflow engine, command handler and router, starts the digest scheduler,
// and blocks until the context is cancelled. On shutdown it closes the
// adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Telegraph connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	engine, err := workflow.New(workflow.Opts{
		DB:            d.db,
		Store:         workflow.NewStore(d.cfg.Sessions.TTL()),
		Attachments:   d.files,
		IsAdmin:       d.cfg.Access.IsAdmin,
		RequireActive: d.cfg.Access.RequireActive,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build workflow engine: %w", err)
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		DB:            d.db,
		IsAdmin:       d.cfg.Access.IsAdmin,
		RequireActive: d.cfg.Access.RequireActive,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Engine:     engine,
		CmdHandler: cmdHandler,
		Adapter:    d.adapter,
		BotUserID:  botUserID,
		Out:        d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	// Start listening for inbound messages.
	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Telegraph online\n")

	if err := d.adapter.Send(ctx, OutboundMessage{
		Text: "Blockyard online",
	}); err != nil {
		log.Printf("telegraph: send online message: %v", err)
	}

	// Main event loop. Messages are handled one at a time, so inputs of one
	// session never race each other.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Telegraph shutting down...\n")
			d.sendShutdown()
			if err := d.adapter.Close(); err != nil {
				log.Printf("telegraph: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Telegraph stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				// Adapter closed the channel.
				fmt.Fprintf(d.out, "Telegraph inbound channel closed\n")
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// runDigestScheduler fires the daily digest on its cron schedule. It
// returns immediately if the digest is disabled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	cfg := d.cfg.Digest
	if !cfg.Enabled || cfg.Cron == "" {
		return
	}
	wait := nextCronDuration(cfg.Cron)
	if wait <= 0 {
		log.Printf("telegraph: digest: cannot schedule %q", cfg.Cron)
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx)
			if wait := nextCronDuration(cfg.Cron); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// fireDigest builds and sends the daily digest.
func (d *Daemon) fireDigest(ctx context.Context) {
	report, err := BuildDailyReport(d.db.WithContext(ctx), now())
	if err != nil {
		log.Printf("telegraph: daily digest: %v", err)
		return
	}
	if report.Empty() {
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{
		Events: []FormattedEvent{FormatDaily(report)},
	}); err != nil {
		log.Printf("telegraph: send daily digest: %v", err)
	}
}

// sendShutdown posts a shutdown message to the adapter (best-effort).
func (d *Daemon) sendShutdown() {
	ctx := context.Background()
	if err := d.adapter.Send(ctx, OutboundMessage{
		Text: "Blockyard shutting down",
	}); err != nil {
		log.Printf("telegraph: send shutdown message: %v", err)
	}
}
