package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/cache"
	"github.com/agentic-research/paleodem/internal/catalog"
	"github.com/agentic-research/paleodem/internal/config"
	"github.com/agentic-research/paleodem/internal/models"
	"github.com/agentic-research/paleodem/internal/rasters"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var (
	configPath string
	cacheDir   string
	logLevel   string
	offline    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $HOME/.paleodem/config.hcl)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Override the cache directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Do not contact the catalog server")
}

var rootCmd = &cobra.Command{
	Use:           "paleodem",
	Short:         "Paleo-DEM construction: plate model and raster cache, compositing and grid transforms",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// env is what a command needs from the configuration, built once per run.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	cache   *cache.Cache
	catalog *catalog.HotSwap
	client  *catalog.Client
	sources catalog.Sources
	models  *models.Resolver
	rasters *rasters.Resolver
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	log, err := newLogger(logLevel)
	if err != nil {
		return nil, log, err
	}
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, log, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	return cfg, log, nil
}

// openEnv opens the cache and, unless --offline is set, loads the remote
// catalog. A catalog that cannot be reached leaves the resolvers working
// from the cache alone.
func openEnv(ctx context.Context) (*env, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(cfg.CacheDir, log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, cache: c, catalog: catalog.NewHotSwap(nil)}
	e.sources = catalog.Sources{ModelsURL: cfg.CatalogURL, RasterManifestURL: cfg.RasterManifestURL}
	if !offline {
		e.client = catalog.NewClient(cfg.HTTPTimeout, log)
		e.catalog.Refresh(ctx, e.client, e.sources)
	}
	e.models = models.New(e.catalog, e.client, c.Models(), log)
	e.rasters = rasters.New(cfg.Rasters, e.catalog, e.client, c, log)
	return e, nil
}

func (e *env) Close() {
	if err := e.cache.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close cache")
	}
}

// Execute runs the root command. An interrupt cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
