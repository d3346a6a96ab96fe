package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/ai"
	"github.com/skillbridge/skillbridge/internal/cache"
	"github.com/skillbridge/skillbridge/internal/courses"
	"github.com/skillbridge/skillbridge/internal/logger"
	"github.com/skillbridge/skillbridge/internal/nlp"
	"github.com/skillbridge/skillbridge/internal/queue"
	"github.com/skillbridge/skillbridge/internal/rag"
	"github.com/skillbridge/skillbridge/internal/recommend"
	"github.com/skillbridge/skillbridge/internal/secrets"
	"github.com/skillbridge/skillbridge/internal/server"
	"github.com/skillbridge/skillbridge/internal/similarity"
)

const (
	defaultHost      = "0.0.0.0"
	defaultPort      = 8000
	defaultCourseIdx = "courses"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the skillbridge API server and job worker",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootLogger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		rootLogger.Fatal("getting a config", zap.Error(err))
	}

	if config == nil {
		rootLogger.Fatal("config is required")
	}

	rootLogger.Info("starting the skillbridge server", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	rootLogger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config.NLP == nil || config.NLP.ModelServerURL == "" {
		rootLogger.Fatal("nlp model server url is required under nlp.model-server-url")
	}

	generator := buildGenerator(ctx, config, rootLogger)
	nlpClient := nlp.New(config.NLP.ModelServerURL, logger.WithComponent(rootLogger, "nlp"))
	index := buildCourseIndex(config, rootLogger)

	aiLogger := logger.WithAIFields(rootLogger, "gemini", generator.Model())
	scorer := similarity.NewScorer(generator, aiLogger)
	recommender := rag.NewRecommender(generator, generator, index, nlpClient, aiLogger)

	resultCache := buildCache(ctx, config, rootLogger)

	handler := recommend.NewHandler(
		nlpClient,
		scorer,
		recommender,
		resultCache,
		logger.WithComponent(rootLogger, "recommend"),
	)

	q := queue.New(
		queueConfig(config),
		map[queue.Type]queue.Handler{
			queue.TypeCourseRecommendation: defaultingThreshold(config, handler.QueueHandler()),
		},
		logger.WithComponent(rootLogger, "queue"),
	)

	q.Start(ctx)
	defer q.Stop()

	host, port := defaultHost, defaultPort
	if config.Server != nil {
		if config.Server.Host != "" {
			host = config.Server.Host
		}
		if config.Server.Port != 0 {
			port = config.Server.Port
		}
	}

	srv := server.New(server.Config{
		Host:  host,
		Port:  port,
		Debug: viper.GetBool("debug"),
	}, q, nlpClient, logger.WithComponent(rootLogger, "http"))

	if err := srv.Run(ctx); err != nil {
		rootLogger.Fatal("http server failed", zap.Error(err))
	}

	rootLogger.Info("skillbridge server stopped")
}

func buildGenerator(ctx context.Context, config *Config, rootLogger *zap.Logger) *ai.Generator {
	if config.AI == nil || config.AI.Gemini == nil {
		rootLogger.Fatal("gemini configuration is required under ai.gemini")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: config.AI.Gemini.APIKeyFile,
	})
	if err != nil {
		rootLogger.Fatal(
			"loading gemini api key",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY_FILE environment variable or the 'ai.gemini.api-key-file' key in the configuration file"),
		)
	}

	generator, err := ai.NewGenerator(ctx, apiKey, config.AI.Gemini.Model, config.AI.Gemini.EmbeddingModel)
	if err != nil {
		rootLogger.Fatal("creating gemini client", zap.Error(err))
	}

	return generator
}

func buildCourseIndex(config *Config, rootLogger *zap.Logger) *courses.Index {
	if config.Courses == nil || config.Courses.Meilisearch == nil || config.Courses.Meilisearch.Host == "" {
		rootLogger.Fatal("meilisearch host is required under courses.meilisearch.host")
	}

	apiKey := ""
	if config.Courses.Meilisearch.APIKeyFile != "" {
		key, err := secrets.Load(secrets.Source{
			Name: "meilisearch api key",
			File: config.Courses.Meilisearch.APIKeyFile,
		})
		if err != nil {
			rootLogger.Fatal("loading meilisearch api key", zap.Error(err))
		}
		apiKey = key
	}

	indexName := config.Courses.Index
	if indexName == "" {
		indexName = defaultCourseIdx
	}

	index, err := courses.NewIndex(
		config.Courses.Meilisearch.Host,
		apiKey,
		indexName,
		logger.WithComponent(rootLogger, "courses"),
	)
	if err != nil {
		rootLogger.Fatal("creating course index client", zap.Error(err))
	}

	return index
}

// buildCache dials Redis when configured. A broken or absent cache only costs
// the shortcut, so failures degrade to a disabled cache instead of aborting
// startup.
func buildCache(ctx context.Context, config *Config, rootLogger *zap.Logger) *cache.Cache {
	cacheLogger := logger.WithComponent(rootLogger, "cache")

	if config.Cache == nil || config.Cache.Redis == nil || config.Cache.Redis.Addr == "" {
		rootLogger.Info("recommendation cache disabled", zap.String("reason", "no redis address configured"))
		return cache.New(nil, 0, cacheLogger)
	}

	password := ""
	if config.Cache.Redis.PasswordFile != "" {
		secret, err := secrets.Load(secrets.Source{
			Name: "redis password",
			File: config.Cache.Redis.PasswordFile,
		})
		if err != nil {
			rootLogger.Warn("loading redis password, continuing without cache", zap.Error(err))
			return cache.New(nil, 0, cacheLogger)
		}
		password = secret
	}

	client, err := cache.Connect(ctx, config.Cache.Redis.Addr, password, config.Cache.Redis.DB)
	if err != nil {
		rootLogger.Warn("connecting to redis, continuing without cache", zap.Error(err))
		return cache.New(nil, 0, cacheLogger)
	}

	return cache.New(client, config.Cache.TTL, cacheLogger)
}

func queueConfig(config *Config) queue.Config {
	cfg := queue.Config{}
	if config.Queue != nil {
		cfg.Capacity = config.Queue.Capacity
		cfg.JobTimeout = config.Queue.JobTimeout
		cfg.Retention = config.Queue.Retention
		cfg.SweepInterval = config.Queue.SweepInterval
		cfg.AverageJobDuration = config.Queue.AverageJobDuration
	}
	return cfg
}

// defaultingThreshold fills the configured similarity threshold into payloads
// that do not carry their own.
func defaultingThreshold(config *Config, next queue.Handler) queue.Handler {
	if config.Similarity == nil || config.Similarity.Threshold <= 0 {
		return next
	}

	threshold := config.Similarity.Threshold
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		if _, ok := payload["threshold"]; !ok {
			payload["threshold"] = threshold
		}
		return next(ctx, payload)
	}
}
