package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/internal/automation"
	"github.com/xkilldash9x/webpilot/internal/browser/cdpconn"
	"github.com/xkilldash9x/webpilot/internal/browser/chromium"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

const browserCloseTimeout = 10 * time.Second

var errSurfaceGone = errors.New("content surface target is gone")

// browserProcess is the part of chromium.Browser serve depends on.
type browserProcess interface {
	Conn() cdpconn.Conn
	Close(ctx context.Context) error
}

// launchBrowser is replaced in tests.
var launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browserProcess, error) {
	return chromium.Launch(ctx, cfg, logger)
}

func newServeCmd() *cobra.Command {
	var (
		headful  bool
		startURL string
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browser and serve JSON commands on stdin/stdout",
		Long: `Starts the browser, loads the start page and reads one JSON command per
line from stdin, e.g. {"id":"1","cmd":"navigate","args":{"url":"example.com"}}.
Each command gets exactly one JSON response line on stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if headful {
				cfg.SetBrowserHeadless(false)
			}
			if cmd.Flags().Changed("url") {
				cfg.SetSurfaceDefaultURL(startURL)
			}
			return runServe(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
		},
	}
	serveCmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	serveCmd.Flags().StringVar(&startURL, "url", "", "start page (overrides surface.default_url)")
	return serveCmd
}

// runServe owns the lifetime of the browser, the content surface and the
// command loop. It returns when in is exhausted, ctx ends or the page
// target disappears.
func runServe(ctx context.Context, cfg config.Interface, in io.Reader, out io.Writer, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	browser, err := launchBrowser(ctx, cfg.Browser(), logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), browserCloseTimeout)
		defer cancel()
		if err := browser.Close(closeCtx); err != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(err))
		}
	}()

	s := surface.New(logger, browser.Conn(), cfg, catalog, surface.Options{})
	if err := s.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("failed to start content surface: %w", err)
	}
	defer s.Close()

	facade := automation.New(logger, s, cfg)
	logger.Info("Serving automation commands.", zap.Int("commands", len(facade.Commands())))

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		defer stop()
		return facade.Serve(gctx, in, out)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-browser.Conn().Done():
			return errSurfaceGone
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Command stream closed.")
	return nil
}
