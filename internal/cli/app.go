package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ditkit/ditreport/internal/bridge"
	"github.com/ditkit/ditreport/internal/capture"
	"github.com/ditkit/ditreport/internal/config"
	"github.com/ditkit/ditreport/internal/db"
	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/logging"
	"github.com/ditkit/ditreport/internal/report"
	"github.com/ditkit/ditreport/internal/session"
)

// app is what a command needs once flags and environment are resolved.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	sess   session.Session
	closer func() error
}

func (g *globalFlags) config() (config.Config, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel()
	if g.logLevel != "" {
		level = g.logLevel
	}
	return cfg, logging.New(os.Stderr, level), nil
}

// open resolves config and connects the selected session.
func (g *globalFlags) open(ctx context.Context) (*app, error) {
	cfg, logger, err := g.config()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closer: func() error { return nil }}

	switch g.session {
	case SessionFixture:
		if g.fixture == "" {
			return nil, fmt.Errorf("--fixture is required with --session %s", SessionFixture)
		}
		fix, err := session.LoadFixture(g.fixture)
		if err != nil {
			return nil, err
		}
		a.sess = fix
		logger.Debug("using fixture session", "path", logging.SanitizePath(g.fixture))
	case SessionBridge, "":
		p, err := bridge.Start(ctx, bridge.ConfigFrom(cfg, logger))
		if err != nil {
			return nil, fmt.Errorf("failed to start session bridge: %w", err)
		}
		a.sess = p
		a.closer = p.Close
	default:
		return nil, fmt.Errorf("unknown session %q (want %s or %s)", g.session, SessionBridge, SessionFixture)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.closer()
}

// engine builds an engine over the app's session. Its run-lock is a file in
// the data directory shared by every ditreport process. noWait makes an
// overlapping run fail instead of queueing.
func (a *app) engine(noWait bool) (*engine.Engine, error) {
	rule, err := capture.ParseFrameRule(a.cfg.ThumbnailRule())
	if err != nil {
		return nil, err
	}
	lock, err := session.NewFileLock(filepath.Join(a.cfg.DataDir(), session.LockFileName))
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Session:    a.sess,
		Lock:       lock,
		Capture:    capture.OptionsFrom(a.cfg),
		ScratchDir: a.cfg.ScratchDir(),
		Font:       report.FontConfig{Path: a.cfg.FontPath()},
		Footer:     a.cfg.FooterText(),
		Operator:   a.cfg.Operator(),
		Rule:       rule,
		NoWait:     noWait,
		Logger:     a.logger,
	})
}

// openHistory opens the run history database under the data directory.
func openHistory(cfg config.Config, logger *slog.Logger) (*db.DB, *history.SQLiteRepository, error) {
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, history.NewRepository(database.Conn()), nil
}
