// Package servecmder provides the serve command that runs the storyloom API
// server with the narrative pipeline behind it.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/storyloom/api"
	"github.com/papercomputeco/storyloom/cmd/storyloom/sqlitepath"
	"github.com/papercomputeco/storyloom/pkg/agent"
	"github.com/papercomputeco/storyloom/pkg/config"
	"github.com/papercomputeco/storyloom/pkg/credentials"
	"github.com/papercomputeco/storyloom/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/storyloom/pkg/embeddings/utils"
	"github.com/papercomputeco/storyloom/pkg/eventstream"
	"github.com/papercomputeco/storyloom/pkg/eventstream/kafka"
	"github.com/papercomputeco/storyloom/pkg/eventstream/nop"
	"github.com/papercomputeco/storyloom/pkg/llm/provider"
	"github.com/papercomputeco/storyloom/pkg/logger"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/settings"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/storage/inmemory"
	"github.com/papercomputeco/storyloom/pkg/storage/postgres"
	"github.com/papercomputeco/storyloom/pkg/storage/sqlite"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
	"github.com/papercomputeco/storyloom/pkg/utils"
	"github.com/papercomputeco/storyloom/pkg/vector"
	vectorutils "github.com/papercomputeco/storyloom/pkg/vector/utils"
	"github.com/papercomputeco/storyloom/pkg/worker"
)

const (
	turnCollection   = "storyloom_turns"
	memoryCollection = "storyloom_memories"

	shutdownTimeout = 10 * time.Second
)

// registeredFlags are the config.Flags entries serve binds to viper.
var registeredFlags = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagProvider,
	config.FlagModel,
	config.FlagUpstream,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagRecallK,
	config.FlagWorkers,
	config.FlagEventStream,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
	config.FlagSettingsFile,
}

type serveCommander struct {
	flags struct {
		listen            string
		storageDriver     string
		sqlitePath        string
		postgresDSN       string
		provider          string
		model             string
		upstream          string
		vectorProvider    string
		vectorTarget      string
		embeddingProvider string
		embeddingTarget   string
		embeddingModel    string
		embeddingDims     uint
		recallK           uint
		workers           uint
		eventStream       string
		kafkaBrokers      string
		kafkaTopic        string
		settingsFile      string
	}

	trace     bool
	noMCP     bool
	noRecall  bool
	debug     bool
	configDir string

	cfg          *config.Config
	settingsPath string
	logger       *zap.Logger
}

const serveLongDesc string = `Run the storyloom API server.

The server plays the story through POST /api/chat, exposes turn history,
runtime settings and the memory log over REST, serves Prometheus metrics at
/metrics, and mounts an MCP server at /mcp.

Runtime settings are loaded from settings.toml in the .storyloom/ directory
and reloaded when the file changes.

Examples:
  storyloom serve
  storyloom serve --provider gemini --model gemini-2.5-flash
  storyloom serve --storage postgres --postgres postgres://localhost/storyloom
  storyloom serve --vector-store-provider qdrant --vector-store-target localhost:6334
  storyloom serve --eventstream kafka --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the storyloom API server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, registeredFlags)
			cmder.cfg = config.FromViper(v)

			cfger, err := config.NewConfiger(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cmder.settingsPath = cfger.SettingsPath(cmder.cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run(cmd.Context())
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &f.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &f.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &f.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &f.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &f.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &f.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &f.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &f.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &f.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &f.embeddingProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &f.embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &f.embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &f.embeddingDims)
	config.AddUintFlag(cmd, config.Flags, config.FlagRecallK, &f.recallK)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &f.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventStream, &f.eventStream)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &f.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &f.kafkaTopic)
	config.AddStringFlag(cmd, config.Flags, config.FlagSettingsFile, &f.settingsFile)

	cmd.Flags().BoolVar(&cmder.trace, "trace", false, "Print OpenTelemetry spans to stdout")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP server at /mcp")
	cmd.Flags().BoolVar(&cmder.noRecall, "no-recall", false, "Disable the embedding-backed turn cache and memory index")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	if c.trace {
		tp, err := telemetry.NewTracerProvider("storyloom", utils.Version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = tp.Shutdown(sctx)
		}()
	}

	store, sqlitePath, err := c.newStorageDriver(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := c.loadSettings(ctx, store); err != nil {
		return err
	}

	keys, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	embedder, turnCache, memoryIndex, err := c.newRecallStack(ctx, keys, sqlitePath)
	if err != nil {
		return err
	}
	if embedder != nil {
		defer embedder.Close()
		defer turnCache.Close()
		defer memoryIndex.Close()
	}

	mem := memory.NewConsolidator(memory.Config{
		Storage:  store,
		Embedder: embedder,
		Index:    memoryIndex,
		Logger:   c.logger,
	})

	pool, err := worker.NewPool(&worker.Config{
		Consolidator: mem,
		NumWorkers:   c.cfg.Agent.Workers,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("starting consolidation workers: %w", err)
	}
	defer pool.Close()

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	llmCfg := c.cfg.LLM
	orch, err := agent.NewOrchestrator(agent.Config{
		Storage:      store,
		ProviderName: llmCfg.Provider,
		Model:        llmCfg.Model,
		Providers: agent.NewProviderFactory(provider.Opts{
			ProviderType:      llmCfg.Provider,
			Model:             llmCfg.Model,
			BaseURL:           llmCfg.BaseURL,
			RequestsPerSecond: llmCfg.RequestsPerSecond,
		}),
		Keys:         keys,
		Embedder:     embedder,
		TurnCache:    turnCache,
		Memory:       mem,
		Pool:         pool,
		Publisher:    publisher,
		HistoryTurns: int(c.cfg.Agent.HistoryTurns),
		RecallK:      int(c.cfg.Agent.RecallK),
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer orch.Close()

	server, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
		Exchanger:  orch,
		Memory:     mem,
		Retriever: agent.NewQueryAgent(agent.QueryConfig{
			Embedder: embedder,
			Cache:    turnCache,
			Logger:   c.logger,
		}),
		SettingsPath: c.settingsPath,
		EnableMCP:    !c.noMCP,
	}, store, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.logger.Info("narrative pipeline ready",
		zap.String("provider", llmCfg.Provider),
		zap.String("model", llmCfg.Model),
		zap.Bool("mcp", !c.noMCP),
		zap.Bool("recall", mem.RecallEnabled()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	if c.settingsPath != "" && !c.cfg.Settings.DisableWatch {
		watcher, err := settings.NewWatcher(settings.WatcherConfig{
			Path:    c.settingsPath,
			Storage: store,
			Logger:  c.logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}

		cancel()
		return server.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	wctx, wcancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer wcancel()
	if err := orch.WaitForConsolidation(wctx); err != nil {
		c.logger.Warn("consolidation still running at shutdown", zap.Error(err))
	}

	return nil
}

// newStorageDriver opens the configured storage. The returned path is the
// SQLite database, empty for other drivers.
func (c *serveCommander) newStorageDriver(ctx context.Context) (storage.Driver, string, error) {
	sc := c.cfg.Storage

	switch sc.Driver {
	case "memory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), "", nil

	case "postgres":
		if sc.PostgresDSN == "" {
			return nil, "", errors.New("postgres storage requires --postgres")
		}
		driver, err := postgres.NewDriver(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}
		c.logger.Info("using PostgreSQL storage")
		return driver, "", nil

	case "sqlite", "":
		path, err := sqlitepath.ResolveSQLitePath(sc.SQLitePath, c.configDir)
		if err != nil {
			return nil, "", fmt.Errorf("resolving SQLite path: %w", err)
		}
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return driver, path, nil

	default:
		return nil, "", fmt.Errorf("unsupported storage driver: %q", sc.Driver)
	}
}

// loadSettings copies the settings file into storage when it exists.
func (c *serveCommander) loadSettings(ctx context.Context, store storage.Driver) error {
	if c.settingsPath == "" {
		return nil
	}

	loaded, err := settings.Sync(ctx, c.settingsPath, store)
	if err != nil {
		return fmt.Errorf("loading runtime settings: %w", err)
	}
	if loaded {
		c.logger.Info("loaded runtime settings", zap.String("path", c.settingsPath))
	} else {
		c.logger.Info("no runtime settings file, using stored settings", zap.String("path", c.settingsPath))
	}
	return nil
}

// newRecallStack builds the embedder, turn cache and memory index. A missing
// embedding credential or --no-recall disables them and leaves keyword
// retrieval in place.
func (c *serveCommander) newRecallStack(ctx context.Context, keys *credentials.Manager, sqlitePath string) (embeddings.Embedder, vector.Driver, vector.Driver, error) {
	ec := c.cfg.Embedding
	if c.noRecall || ec.Provider == "" {
		c.logger.Info("semantic recall disabled")
		return nil, nil, nil, nil
	}

	var apiKey string
	if embeddingutils.RequiresAPIKey(ec.Provider) {
		key, _, err := keys.Resolve(ec.Provider, "")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolving embedding credential: %w", err)
		}
		if key == "" {
			c.logger.Warn("no API key for embedding provider, semantic recall disabled",
				zap.String("embedding_provider", ec.Provider),
			)
			return nil, nil, nil, nil
		}
		apiKey = key
	}

	embedder, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{
		ProviderType: ec.Provider,
		TargetURL:    ec.Target,
		Model:        ec.Model,
		APIKey:       apiKey,
		Dimensions:   int(ec.Dimensions),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	vc := c.cfg.VectorStore
	vectorSQLite := sqlitePath
	if vc.Provider == vectorutils.ProviderSQLite && vc.Target != "" {
		vectorSQLite = vc.Target
	}
	if vc.Provider == vectorutils.ProviderSQLite && vectorSQLite == "" {
		vectorSQLite, err = sqlitepath.ResolveSQLitePath("", c.configDir)
		if err != nil {
			embedder.Close()
			return nil, nil, nil, fmt.Errorf("resolving vector database path: %w", err)
		}
	}

	newDriver := func(collection string) (vector.Driver, error) {
		return vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
			ProviderType: vc.Provider,
			TargetURL:    vc.Target,
			SQLitePath:   vectorSQLite,
			Collection:   collection,
			Dimensions:   ec.Dimensions,
			Logger:       c.logger,
		})
	}

	turnCache, err := newDriver(turnCollection)
	if err != nil {
		embedder.Close()
		return nil, nil, nil, fmt.Errorf("creating turn cache: %w", err)
	}

	memoryIndex, err := newDriver(memoryCollection)
	if err != nil {
		turnCache.Close()
		embedder.Close()
		return nil, nil, nil, fmt.Errorf("creating memory index: %w", err)
	}

	c.logger.Info("semantic recall enabled",
		zap.String("vector_store_provider", vc.Provider),
		zap.String("embedding_provider", ec.Provider),
		zap.String("embedding_model", ec.Model),
		zap.Uint("embedding_dimensions", ec.Dimensions),
	)

	return embedder, turnCache, memoryIndex, nil
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	es := c.cfg.EventStream

	switch es.Provider {
	case "kafka":
		brokers := splitBrokers(es.Brokers)
		if len(brokers) == 0 {
			return nil, errors.New("kafka event stream requires --kafka-brokers")
		}
		p, err := kafka.NewPublisher(kafka.Config{Brokers: brokers, Topic: es.Topic}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		c.logger.Info("publishing turn events to kafka",
			zap.Strings("brokers", brokers),
			zap.String("topic", es.Topic),
		)
		return p, nil

	case "nop", "":
		return nop.NewPublisher(c.logger), nil

	default:
		return nil, fmt.Errorf("unsupported event stream provider: %q", es.Provider)
	}
}

func splitBrokers(s string) []string {
	var brokers []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
