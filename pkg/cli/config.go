package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/executor"
	"github.com/m-mizutani/talk2sql/pkg/guard"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/repository"
	"github.com/m-mizutani/talk2sql/pkg/usecase/history"
	"github.com/m-mizutani/talk2sql/pkg/usecase/memory"
	"github.com/m-mizutani/talk2sql/pkg/usecase/query"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/m-mizutani/talk2sql/pkg/viz"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v3"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerAzure  = "azure"
	providerClaude = "claude"

	backendSQLite    = "sqlite"
	backendFirestore = "firestore"
	backendMemory    = "memory"
)

// config holds configuration values
type config struct {
	// LLM
	provider             string
	embeddingProvider    string
	geminiProject        string
	geminiLocation       string
	geminiModel          string
	geminiEmbeddingModel string
	openaiAPIKey         string
	openaiModel          string
	openaiEmbeddingModel string
	azureEndpoint        string
	azureAPIKey          string
	azureAPIVersion      string
	azureChatDeployment  string
	azureEmbedDeployment string
	anthropicAPIKey      string
	claudeModel          string

	// Memory
	memoryBackend     string
	memoryPath        string
	firestoreProject  string
	firestoreDatabase string
	nResults          int64
	redisAddr         string
	redisPassword     string
	redisDB           int64

	// Database
	sqlitePath          string
	postgresDSN         string
	bigqueryProject     string
	bigqueryDatasets    []string
	bigqueryScanLimitMB int64
	maxRows             int64

	// Engine
	debug        bool
	maxRetries   int64
	noHistory    bool
	historyPath  string
	noVisualize  bool
	noGuard      bool
	policyDir    string
	llmTimeout   time.Duration
	queryTimeout time.Duration
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Generation provider (gemini, openai, azure, claude)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("TALK2SQL_LLM"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "embedding",
			Usage:       "Embedding provider (gemini, openai, azure). Defaults to --llm, or gemini for claude",
			Sources:     cli.EnvVars("TALK2SQL_EMBEDDING"),
			Destination: &cfg.embeddingProvider,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("TALK2SQL_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("TALK2SQL_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Sources:     cli.EnvVars("TALK2SQL_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini embedding model",
			Sources:     cli.EnvVars("TALK2SQL_GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("TALK2SQL_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI chat model",
			Value:       adapter.DefaultOpenAIChatModel,
			Sources:     cli.EnvVars("TALK2SQL_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Usage:       "OpenAI embedding model",
			Value:       adapter.DefaultOpenAIEmbeddingModel,
			Sources:     cli.EnvVars("TALK2SQL_OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.openaiEmbeddingModel,
		},
		&cli.StringFlag{
			Name:        "azure-endpoint",
			Usage:       "Azure OpenAI endpoint",
			Sources:     cli.EnvVars("TALK2SQL_AZURE_ENDPOINT", "AZURE_OPENAI_ENDPOINT"),
			Destination: &cfg.azureEndpoint,
		},
		&cli.StringFlag{
			Name:        "azure-api-key",
			Usage:       "Azure OpenAI API key",
			Sources:     cli.EnvVars("TALK2SQL_AZURE_API_KEY", "AZURE_OPENAI_API_KEY"),
			Destination: &cfg.azureAPIKey,
		},
		&cli.StringFlag{
			Name:        "azure-api-version",
			Usage:       "Azure OpenAI API version",
			Value:       adapter.DefaultAzureAPIVersion,
			Sources:     cli.EnvVars("TALK2SQL_AZURE_API_VERSION"),
			Destination: &cfg.azureAPIVersion,
		},
		&cli.StringFlag{
			Name:        "azure-chat-deployment",
			Usage:       "Azure OpenAI chat deployment name",
			Value:       adapter.DefaultOpenAIChatModel,
			Sources:     cli.EnvVars("TALK2SQL_AZURE_CHAT_DEPLOYMENT"),
			Destination: &cfg.azureChatDeployment,
		},
		&cli.StringFlag{
			Name:        "azure-embedding-deployment",
			Usage:       "Azure OpenAI embedding deployment name",
			Value:       adapter.DefaultOpenAIEmbeddingModel,
			Sources:     cli.EnvVars("TALK2SQL_AZURE_EMBEDDING_DEPLOYMENT"),
			Destination: &cfg.azureEmbedDeployment,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("TALK2SQL_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model",
			Value:       adapter.DefaultClaudeModel,
			Sources:     cli.EnvVars("TALK2SQL_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.DurationFlag{
			Name:        "llm-timeout",
			Usage:       "Timeout of each LLM call",
			Value:       model.DefaultConfig().LLMTimeout,
			Sources:     cli.EnvVars("TALK2SQL_LLM_TIMEOUT"),
			Destination: &cfg.llmTimeout,
		},
	}
}

// memoryFlags configures the retrieval memory and its embedding cache.
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "Vector memory backend (sqlite, firestore, memory)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("TALK2SQL_MEMORY"),
			Destination: &cfg.memoryBackend,
		},
		&cli.StringFlag{
			Name:        "memory-path",
			Usage:       "SQLite file of the vector memory",
			Value:       "talk2sql_memory.db",
			Sources:     cli.EnvVars("TALK2SQL_MEMORY_PATH"),
			Destination: &cfg.memoryPath,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore memory",
			Sources:     cli.EnvVars("TALK2SQL_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("TALK2SQL_FIRESTORE_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.IntFlag{
			Name:        "n-results",
			Usage:       "Entries retrieved per memory collection",
			Value:       int64(model.DefaultConfig().NResults),
			Sources:     cli.EnvVars("TALK2SQL_N_RESULTS"),
			Destination: &cfg.nResults,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for caching embeddings (disabled when empty)",
			Sources:     cli.EnvVars("TALK2SQL_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("TALK2SQL_REDIS_PASSWORD"),
			Destination: &cfg.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("TALK2SQL_REDIS_DB"),
			Destination: &cfg.redisDB,
		},
	}
}

// databaseFlags selects the database questions are answered from.
func databaseFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sqlite",
			Usage:       "SQLite database file to query",
			Sources:     cli.EnvVars("TALK2SQL_SQLITE"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "postgres",
			Usage:       "PostgreSQL connection string to query",
			Sources:     cli.EnvVars("TALK2SQL_POSTGRES"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project to run BigQuery jobs in",
			Sources:     cli.EnvVars("TALK2SQL_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringSliceFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset whose tables are described by train --from-db (repeatable)",
			Sources:     cli.EnvVars("TALK2SQL_BIGQUERY_DATASETS"),
			Destination: &cfg.bigqueryDatasets,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit-mb",
			Usage:       "Refuse BigQuery statements scanning more than this",
			Value:       executor.DefaultScanLimitMB,
			Sources:     cli.EnvVars("TALK2SQL_BIGQUERY_SCAN_LIMIT_MB"),
			Destination: &cfg.bigqueryScanLimitMB,
		},
		&cli.IntFlag{
			Name:        "max-rows",
			Usage:       "Maximum rows fetched per statement",
			Value:       executor.DefaultMaxRows,
			Sources:     cli.EnvVars("TALK2SQL_MAX_ROWS"),
			Destination: &cfg.maxRows,
		},
		&cli.DurationFlag{
			Name:        "query-timeout",
			Usage:       "Timeout of each database statement",
			Value:       model.DefaultConfig().QueryTimeout,
			Sources:     cli.EnvVars("TALK2SQL_QUERY_TIMEOUT"),
			Destination: &cfg.queryTimeout,
		},
	}
}

// historyFlags locates the attempt history.
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "history-path",
			Usage:       "SQLite file of the query history",
			Value:       "talk2sql_history.db",
			Sources:     cli.EnvVars("TALK2SQL_HISTORY_PATH"),
			Destination: &cfg.historyPath,
		},
		&cli.BoolFlag{
			Name:        "no-history",
			Usage:       "Do not record query attempts",
			Sources:     cli.EnvVars("TALK2SQL_NO_HISTORY"),
			Destination: &cfg.noHistory,
		},
	}
}

// engineFlags tunes the query engine.
func engineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-retries",
			Usage:       "Repair attempts after a failed statement",
			Value:       int64(model.DefaultConfig().MaxRetryAttempts),
			Sources:     cli.EnvVars("TALK2SQL_MAX_RETRIES"),
			Destination: &cfg.maxRetries,
		},
		&cli.BoolFlag{
			Name:        "no-visualize",
			Usage:       "Never draw charts",
			Sources:     cli.EnvVars("TALK2SQL_NO_VISUALIZE"),
			Destination: &cfg.noVisualize,
		},
		&cli.BoolFlag{
			Name:        "no-guard",
			Usage:       "Send generated statements to the database without the read-only check",
			Sources:     cli.EnvVars("TALK2SQL_NO_GUARD"),
			Destination: &cfg.noGuard,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of .rego files replacing the built-in statement policy",
			Sources:     cli.EnvVars("TALK2SQL_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// engineCommandFlags is every flag needed to build a query engine.
func engineCommandFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, databaseFlags(cfg)...)
	flags = append(flags, historyFlags(cfg)...)
	flags = append(flags, engineFlags(cfg)...)
	return flags
}

// load fills flags that were not set on the command line or through the
// environment from the file given by --config. Keys are flag names.
func (cfg *config) load(ctx context.Context, c *cli.Command) error {
	cfg.debug = c.Bool("debug")

	path := c.String("config")
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	for _, f := range c.Flags {
		name := f.Names()[0]
		if c.IsSet(name) || !v.IsSet(name) {
			continue
		}

		value := v.Get(name)
		var s string
		switch tv := value.(type) {
		case []any:
			parts := make([]string, len(tv))
			for i, p := range tv {
				parts[i] = fmt.Sprint(p)
			}
			s = strings.Join(parts, ",")
		default:
			s = v.GetString(name)
		}

		if err := c.Set(name, s); err != nil {
			return goerr.Wrap(err, "invalid value in config file", goerr.V("key", name), goerr.V("value", s))
		}
	}

	logging.From(ctx).Debug("config file loaded", "path", path)
	return nil
}

func (cfg *config) engineConfig() model.Config {
	c := model.DefaultConfig()
	c.MaxRetryAttempts = int(cfg.maxRetries)
	c.SaveHistory = !cfg.noHistory
	c.AutoVisualization = !cfg.noVisualize
	c.Guard = !cfg.noGuard
	c.Debug = cfg.debug
	if cfg.nResults > 0 {
		c.NResults = int(cfg.nResults)
	}
	if cfg.llmTimeout > 0 {
		c.LLMTimeout = cfg.llmTimeout
	}
	if cfg.queryTimeout > 0 {
		c.QueryTimeout = cfg.queryTimeout
	}
	return c
}

func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.geminiEmbeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.geminiEmbeddingModel))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

func (cfg *config) newOpenAI() (*adapter.OpenAIClient, error) {
	return adapter.NewOpenAI(cfg.openaiAPIKey,
		adapter.WithOpenAIChatModel(cfg.openaiModel),
		adapter.WithOpenAIEmbeddingModel(cfg.openaiEmbeddingModel),
	)
}

func (cfg *config) newAzureOpenAI() (*adapter.OpenAIClient, error) {
	return adapter.NewAzureOpenAI(cfg.azureEndpoint, cfg.azureAPIKey, cfg.azureAPIVersion,
		adapter.WithOpenAIChatModel(cfg.azureChatDeployment),
		adapter.WithOpenAIEmbeddingModel(cfg.azureEmbedDeployment),
	)
}

// newLLM creates the generation service selected by --llm
func (cfg *config) newLLM(ctx context.Context) (interfaces.LLM, error) {
	switch cfg.provider {
	case providerGemini:
		return cfg.newGemini(ctx)
	case providerOpenAI:
		return cfg.newOpenAI()
	case providerAzure:
		return cfg.newAzureOpenAI()
	case providerClaude:
		return adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel))
	}
	return nil, goerr.New("unknown LLM provider", goerr.V("llm", cfg.provider))
}

// newEmbedder creates the embedding service, cached in Redis when
// --redis-addr is set. The returned close func releases the cache client.
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, func(), error) {
	provider := cfg.embeddingProvider
	if provider == "" {
		provider = cfg.provider
		if provider == providerClaude {
			provider = providerGemini
		}
	}

	var embedder interfaces.Embedder
	var namespace string
	switch provider {
	case providerGemini:
		g, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, nil, err
		}
		embedder, namespace = g, "gemini:"+cfg.geminiEmbeddingModel
	case providerOpenAI:
		c, err := cfg.newOpenAI()
		if err != nil {
			return nil, nil, err
		}
		embedder, namespace = c, "openai:"+cfg.openaiEmbeddingModel
	case providerAzure:
		c, err := cfg.newAzureOpenAI()
		if err != nil {
			return nil, nil, err
		}
		embedder, namespace = c, "azure:"+cfg.azureEmbedDeployment
	default:
		return nil, nil, goerr.New("unknown embedding provider", goerr.V("embedding", provider))
	}

	if cfg.redisAddr == "" {
		return embedder, func() {}, nil
	}

	client, err := adapter.NewRedis(ctx, cfg.redisAddr, cfg.redisPassword, int(cfg.redisDB))
	if err != nil {
		return nil, nil, err
	}
	cached := adapter.NewCachedEmbedder(embedder, client, adapter.WithCacheNamespace(namespace))
	return cached, func() { _ = client.Close() }, nil
}

// newVectorStore creates the backend selected by --memory
func (cfg *config) newVectorStore(ctx context.Context) (interfaces.VectorStore, error) {
	switch cfg.memoryBackend {
	case backendSQLite:
		return repository.NewSQLite(ctx, cfg.memoryPath)
	case backendFirestore:
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		return repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
	case backendMemory:
		return repository.NewMemory(), nil
	}
	return nil, goerr.New("unknown memory backend", goerr.V("memory", cfg.memoryBackend))
}

// newExecutor opens the database selected by the database flags. It returns
// nil when none is configured.
func (cfg *config) newExecutor(ctx context.Context) (interfaces.Executor, string, func(), error) {
	set := 0
	for _, v := range []string{cfg.sqlitePath, cfg.postgresDSN, cfg.bigqueryProject} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, "", nil, goerr.New("only one of --sqlite, --postgres and --bigquery-project can be set")
	}

	switch {
	case cfg.sqlitePath != "":
		db, err := executor.OpenSQLite(ctx, cfg.sqlitePath, executor.WithMaxRows(int(cfg.maxRows)))
		if err != nil {
			return nil, "", nil, err
		}
		return db, db.Dialect(), func() { _ = db.Close() }, nil

	case cfg.postgresDSN != "":
		db, err := executor.OpenPostgres(ctx, cfg.postgresDSN, executor.WithMaxRows(int(cfg.maxRows)))
		if err != nil {
			return nil, "", nil, err
		}
		return db, db.Dialect(), func() { _ = db.Close() }, nil

	case cfg.bigqueryProject != "":
		client, err := adapter.NewBigQuery(ctx, cfg.bigqueryProject)
		if err != nil {
			return nil, "", nil, err
		}
		bq := executor.NewBigQuery(client, cfg.bigqueryProject,
			executor.WithScanLimitMB(cfg.bigqueryScanLimitMB),
			executor.WithDatasets(cfg.bigqueryDatasets...),
			executor.WithBigQueryMaxRows(int(cfg.maxRows)),
		)
		return bq, executor.DialectBigQuery, func() {}, nil
	}

	return nil, "", func() {}, nil
}

// newMemoryStore builds the retrieval memory without a query engine, for
// commands that only manage training data.
func (cfg *config) newMemoryStore(ctx context.Context) (*memory.Store, func(), error) {
	embedder, closeEmbedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	vectors, err := cfg.newVectorStore(ctx)
	if err != nil {
		closeEmbedder()
		return nil, nil, err
	}

	store := memory.New(vectors, embedder, memory.WithNResults(cfg.engineConfig().NResults))
	return store, func() {
		if c, ok := vectors.(io.Closer); ok {
			_ = c.Close()
		}
		closeEmbedder()
	}, nil
}

func (cfg *config) newRecorder(ctx context.Context, m *metrics.Metrics) *history.Recorder {
	if cfg.noHistory {
		return history.Disabled()
	}
	return history.Open(ctx, cfg.historyPath, history.WithMetrics(m))
}

// engineSet is a query engine with the resources it holds.
type engineSet struct {
	engine  *query.Engine
	closers []func()
}

func (s *engineSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newEngine wires every component of a query engine from the flags. m may
// be nil.
func (cfg *config) newEngine(ctx context.Context, m *metrics.Metrics) (*engineSet, error) {
	set := &engineSet{}
	ok := false
	defer func() {
		if !ok {
			set.Close()
		}
	}()

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := cfg.newMemoryStore(ctx)
	if err != nil {
		return nil, err
	}
	set.closers = append(set.closers, closeStore)

	exec, dialect, closeExec, err := cfg.newExecutor(ctx)
	if err != nil {
		return nil, err
	}
	set.closers = append(set.closers, closeExec)

	recorder := cfg.newRecorder(ctx, m)
	set.closers = append(set.closers, func() { _ = recorder.Close() })

	renderer, err := viz.NewVegaLite()
	if err != nil {
		return nil, err
	}

	engineCfg := cfg.engineConfig()
	opts := []query.Option{
		query.WithConfig(engineCfg),
		query.WithRecorder(recorder),
		query.WithRenderer(renderer),
		query.WithMetrics(m),
		query.WithDialect(dialect),
	}
	if exec != nil {
		opts = append(opts, query.WithExecutor(exec))
	}
	if engineCfg.Guard {
		var guardOpts []guard.Option
		if cfg.policyDir != "" {
			guardOpts = append(guardOpts, guard.WithPolicyDir(cfg.policyDir))
		}
		g, err := guard.New(ctx, guardOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, query.WithGuard(g))
	}

	set.engine = query.New(llm, store, opts...)
	ok = true
	return set, nil
}
