package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ditkit/ditreport/internal/api"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/runner"
	"github.com/ditkit/ditreport/internal/sse"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalFlags, version string) *cobra.Command {
	var (
		port      int
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		Long: `Starts the report API on 127.0.0.1. Runs are queued one at a time and
their progress is streamed as server-sent events.

Every route except /health needs the bearer token printed at startup.`,
		Example: `  # Serve against the running application
  ditreport serve

  # Serve an offline snapshot on a custom port
  ditreport serve --session fixture --fixture demo.yaml --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()
			ctx := cmd.Context()

			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger
			logger.Info("starting ditreport", "version", version, "data_dir", a.cfg.DataDir())

			database, repo, err := openHistory(a.cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			token, err := ensureAuthToken(ctx, repo)
			if err != nil {
				return fmt.Errorf("failed to ensure auth token: %w", err)
			}

			// Overlapping requests get 409 instead of waiting on the run-lock.
			eng, err := a.engine(true)
			if err != nil {
				return err
			}
			if port == 0 {
				port = a.cfg.Port()
			}
			if outputDir == "" {
				outputDir = filepath.Join(a.cfg.DataDir(), "reports")
			}

			hub := sse.New()
			runs := runner.New(eng, repo, hub, outputDir, logger)
			server := api.NewServer(api.ServerConfig{
				Port:       port,
				Engine:     eng,
				Runner:     runs,
				Repository: repo,
				Hub:        hub,
				Logger:     logger,
				StartTime:  startTime,
				Version:    version,
			})

			printBanner(cmd.OutOrStdout(), version, server.Addr(), token, outputDir)

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(server.Start)
			eg.Go(func() error {
				runs.Start(egCtx)
				return nil
			})
			eg.Go(func() error {
				<-egCtx.Done()
				logger.Info("initiating graceful shutdown")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			err = eg.Wait()
			logger.Info("shutdown complete")
			return err
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default DITREPORT_PORT or 8788)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "default artifact directory (default <data dir>/reports)")

	return cmd
}

func printBanner(w io.Writer, version, addr, token, outputDir string) {
	lines := []string{
		titleStyle.Render("ditreport " + version),
		kv("API URL   ", "http://"+addr),
		kv("Auth token", token),
		kv("Reports   ", outputDir),
	}
	fmt.Fprintln(w, panelStyle.Render(strings.Join(lines, "\n")))
}

func ensureAuthToken(ctx context.Context, repo history.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, history.ConfigAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, history.ConfigAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
