package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hydropi/hydropi/controller/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Router exposes the cycle API, health and metrics.
func (d *Daemon) Router() *mux.Router {
	r := mux.NewRouter()
	d.cycle.LoadAPI(r)
	r.HandleFunc("/api/health", d.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

// Serve runs the schedule and the HTTP API until ctx is done.
func (d *Daemon) Serve(ctx context.Context) error {
	sched, err := scheduler.New(d.cfg.Cycle, d.cycle, d.log)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if d.cfg.API.Enable {
		stdLog := zap.NewStdLog(d.log.Named("http"))
		srv := &http.Server{
			Addr: d.cfg.API.Address,
			Handler: handlers.RecoveryHandler(handlers.RecoveryLogger(stdLog), handlers.PrintRecoveryStack(true))(
				handlers.CombinedLoggingHandler(stdLog.Writer(), d.Router()),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			d.log.Info("API listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		return d.notifySystemd(ctx)
	})

	d.log.Info("Serving", zap.Time("next_cycle", sched.Next()))
	return g.Wait()
}

// notifySystemd reports readiness and feeds the watchdog when the unit
// asks for one. Outside systemd it returns once ctx is done.
func (d *Daemon) notifySystemd(ctx context.Context) error {
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		d.log.Warn("systemd notify failed", zap.Error(err))
	} else if ok {
		d.log.Debug("Notified systemd")
	}
	defer sd.SdNotify(false, sd.SdNotifyStopping)

	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}
