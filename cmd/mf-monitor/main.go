// Command mf-monitor serves the REST/websocket API pkg/monitor implements
// over an in-process trace log that starts empty. It reads no trace file
// and attaches to no running rank.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/logging"
	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
	"github.com/dsgdpp/mf/pkg/monitor"
)

var (
	version    = "dev"
	addr       string
	jwtSecret  string
	staticAddr string
)

func main() {
	root := &cobra.Command{Use: "mf-monitor", Short: "Serve a run's live training trace over HTTP", Version: version}
	root.PersistentFlags().StringVar(&addr, "addr", ":8090", "address the trace API listens on")
	root.PersistentFlags().StringVar(&staticAddr, "health-addr", ":8091", "address the health-check router listens on")
	root.PersistentFlags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 signing key; empty disables auth")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log := logging.New(logging.Options{Pretty: true})
		srv := monitor.NewServer(log, []byte(jwtSecret), mftrace.NewLog())

		api := &http.Server{Addr: addr, Handler: srv.GinEngine()}
		health := &http.Server{Addr: staticAddr, Handler: srv.StaticRouter()}

		go func() {
			log.Info("trace API listening", "addr", addr)
			if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "trace API server stopped")
			}
		}()
		go func() {
			log.Info("health endpoint listening", "addr", staticAddr)
			if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "health server stopped")
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		api.Shutdown(shutdownCtx)
		health.Shutdown(shutdownCtx)
		return nil
	}

	if err := root.Execute(); err != nil {
		color.Red("mf-monitor: %v", err)
		os.Exit(mferrors.ExitCode(err))
	}
}
