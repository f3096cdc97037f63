package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/michcald/devhandler/handler"
	"github.com/michcald/devhandler/handlers/expander"
	"github.com/michcald/devhandler/handlers/radio"
	"github.com/michcald/devhandler/logging"
)

const shutdownTimeout = 5 * time.Second

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [device...]",
		Short: "Drain device interrupts and log events until interrupted",
		Long:  `Drain device interrupts and log events until interrupted.

When metrics.enabled is set, watch also serves the handler metrics on
metrics.listen under /metrics. It is the only command that does.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := a.board()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := b.Close(); err == nil {
					err = cerr
				}
			}()
			devs, err := a.selectDevices(b, args)
			if err != nil {
				return err
			}
			return a.watch(ctx, devs)
		},
	}
}

// watch runs the interrupt loop of every interrupt-capable device, plus the
// metrics endpoint when enabled, until ctx is done.
func (a *app) watch(ctx context.Context, devs []Device) error {
	g, ctx := errgroup.WithContext(ctx)
	running := 0
	for _, d := range devs {
		ih, ok := d.Handler.(handler.Interrupter)
		if !ok || !ih.SupportsInterrupts() {
			continue
		}
		log := logging.With(a.log, "device", d.Config.Name)
		if err := d.Handler.Initialize(); err != nil {
			log.Error("init failed, not watching", "error", err)
			continue
		}
		if err := subscribe(d.Handler, log); err != nil {
			log.Error("subscribe failed, not watching", "error", err)
			continue
		}
		log.Info("watching interrupts")
		running++
		g.Go(func() error { return ih.RunInterrupts(ctx) })
	}
	if running == 0 {
		return errors.New("no interrupt-capable device is ready")
	}
	if a.registry != nil {
		g.Go(func() error { return serveMetrics(ctx, a.cfg.Metrics.Listen, a.registry, a.log) })
	}
	return g.Wait()
}

func subscribe(h handler.Instance, log logging.Logger) error {
	switch h := h.(type) {
	case *radio.Handler:
		return h.RegisterReceiveCallback(func(p []byte) {
			log.Info("packet received", "len", len(p), "payload", hex.EncodeToString(p))
		})
	case *expander.Handler:
		return h.RegisterInterruptCallback(0xFFFF, func(flagged, captured uint16) {
			log.Info("pin change", "flagged", fmt.Sprintf("%016b", flagged), "captured", fmt.Sprintf("%016b", captured))
		})
	}
	return nil
}

// serveMetrics exposes registry on /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("serving metrics", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
