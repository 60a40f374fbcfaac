package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/ai"
	"github.com/spigell/jobbot/internal/ai/gemini"
	"github.com/spigell/jobbot/internal/cleanup"
	"github.com/spigell/jobbot/internal/filtering"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/normalize"
	"github.com/spigell/jobbot/internal/notifier"
	"github.com/spigell/jobbot/internal/pipeline"
	"github.com/spigell/jobbot/internal/scheduler"
	"github.com/spigell/jobbot/internal/scoring"
	"github.com/spigell/jobbot/internal/secrets"
	"github.com/spigell/jobbot/internal/sources"
	"github.com/spigell/jobbot/internal/store"
)

const day = 24 * time.Hour

// application is the composition root shared by every subcommand.
type application struct {
	config   *Config
	logger   *zap.Logger
	secrets  *secrets.Provider
	store    store.Store
	pipeline *pipeline.Pipeline
	amqp     *notifier.AMQPNotifier
	closers  []io.Closer
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	var outputs []string
	if cfg != nil && cfg.Log.File != "" {
		outputs = append(outputs, cfg.Log.File)
	}
	return logger.New(viper.GetBool("json"), viper.GetBool("debug"), outputs...)
}

// bootstrap loads the config and builds a logger. Any failure here is fatal.
func bootstrap() (*Config, *zap.Logger) {
	config, err := getConfig()
	if err != nil || config == nil {
		l, _ := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		l.Fatal("getting a config", zap.Error(err))
	}

	log, err := newLogger(config)
	if err != nil {
		l, _ := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		l.Fatal("creating a logger", zap.Error(err))
	}
	return config, log
}

func loadSecrets(cfg *Config, log *zap.Logger) *secrets.Provider {
	srcs := make(map[string]secrets.Source, len(cfg.Credentials))
	for name, src := range cfg.Credentials {
		if strings.TrimSpace(src.Value) == "" && strings.TrimSpace(src.File) == "" {
			continue
		}
		srcs[name] = src
	}

	p := secrets.NewProvider(srcs)
	for _, name := range p.Missing() {
		_, err := p.Get(name)
		log.Warn("credential could not be loaded", zap.String("name", name), zap.Error(err))
	}
	return p
}

// openStore opens the configured backend. It is the only collaborator whose
// failure stops the process.
func openStore(ctx context.Context, cfg *Config, creds *secrets.Provider, log *zap.Logger) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "sqlite":
		return store.OpenSQLite(cfg.Store.Path, log)
	case "postgres", "postgresql":
		url, err := creds.Get(credPostgresURL)
		if err != nil {
			return nil, fmt.Errorf("%w (set credentials.%s or %s_POSTGRES_URL)", err, credPostgresURL, envPrefix)
		}
		return store.OpenPostgres(ctx, url, log)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// newApplication wires every component. Collaborators with bad configuration
// are replaced by their fallback with a warning; only the store is required.
func newApplication(ctx context.Context, cfg *Config, log *zap.Logger) (*application, error) {
	a := &application{config: cfg, logger: log}
	a.secrets = loadSecrets(cfg, log)

	st, err := openStore(ctx, cfg, a.secrets, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = st

	engine, err := newScoringEngine(ctx, cfg, a.secrets, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, engine)

	filters, filterCfg := buildFilters(cfg)

	adapters := sources.Build(cfg.Sources, cfg.Search, a.secrets, log)
	if adapters.Len() == 0 {
		log.Warn("no source adapters enabled, scrape cycles will find nothing")
	} else {
		log.Info("source adapters enabled", zap.Strings("names", adapters.Names()))
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Sources: adapters,
		Normalizer: normalize.New(normalize.Config{
			MaxDescriptionLength: cfg.Normalize.MaxDescriptionLength,
			Period: normalize.Period{
				HoursPerWeek: cfg.Normalize.HoursPerWeek,
				WeeksPerYear: cfg.Normalize.WeeksPerYear,
				DaysPerWeek:  cfg.Normalize.DaysPerWeek,
			},
		}, log),
		Scorer:   engine,
		Filters:  filters,
		Store:    st,
		Notifier: a.newNotifier(),
		Cleaner: cleanup.New(st, cleanup.Config{
			JobRetention: time.Duration(cfg.Cleanup.JobRetentionDays) * day,
			LogRetention: time.Duration(cfg.Cleanup.LogRetentionDays) * day,
			LogDir:       cfg.Cleanup.LogDir,
		}, log),
	}, pipeline.Config{
		Filtering: filterCfg,
		BatchSize: cfg.Send.BatchSize,
	}, log)

	return a, nil
}

func buildFilters(cfg *Config) ([]filtering.Filter, *filtering.Config) {
	filters := filtering.Default()
	for _, name := range cfg.Ranking.Disabled {
		filtering.DisableByName(filters, name, "disabled in config")
	}

	return filters, &filtering.Config{
		Thresholds: filtering.Thresholds{
			Semantic:      cfg.Ranking.SemanticThreshold,
			Rating:        cfg.Ranking.RatingThreshold,
			MinimumSalary: cfg.Ranking.MinimumSalary,
		},
		RedFlags:          cfg.Ranking.RedFlags,
		ExcludedCompanies: cfg.Ranking.ExcludedCompanies,
		PartTimeOnly:      cfg.Search.PartTimeOnly,
	}
}

func (a *application) newNotifier() notifier.Notifier {
	kind := strings.ToLower(strings.TrimSpace(a.config.Notifier.Kind))
	if kind == "amqp" {
		url, err := a.secrets.Get(notifier.AMQPURLSecret)
		if err == nil {
			n, dialErr := notifier.DialAMQP(url, a.config.Notifier.AMQP, a.logger)
			if dialErr == nil {
				a.amqp = n
				a.closers = append(a.closers, n)
				return n
			}
			err = dialErr
		}
		a.logger.Warn("amqp notifier disabled, falling back to log notifier", zap.Error(err))
	} else if kind != "" && kind != "log" {
		a.logger.Warn("unknown notifier kind, using log notifier", zap.String("kind", kind))
	}
	return notifier.NewLogNotifier(a.logger)
}

func newScoringEngine(ctx context.Context, cfg *Config, creds *secrets.Provider, log *zap.Logger) (*scoring.Engine, error) {
	profile, err := loadProfile(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	if profile == "" {
		log.Warn("candidate profile is empty, every job will score 0 and be filtered out",
			zap.String("hint", "set scoring.profile or scoring.profile-file"),
		)
	}

	embedder, classifier := newModels(ctx, cfg.Scoring, creds, log)

	return scoring.NewEngine(scoring.Config{
		Profile:         profile,
		MinTextLength:   cfg.Scoring.MinTextLength,
		MaxReviewLength: cfg.Scoring.MaxReviewLength,
		Concurrency:     cfg.Scoring.Concurrency,
	}, embedder, classifier, log), nil
}

// newModels picks the model backend. Gemini without an api key degrades to
// the offline models.
func newModels(ctx context.Context, cfg ScoringConfig, creds *secrets.Provider, log *zap.Logger) (ai.Embedder, ai.SentimentClassifier) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch provider {
	case "offline":
		return scoring.HashingEmbedder{}, scoring.KeywordClassifier{}
	case "", "gemini":
		apiKey, err := creds.Get(credGeminiAPIKey)
		if err != nil {
			log.Warn("gemini disabled, using offline models", zap.Error(err),
				zap.String("hint", "set credentials.gemini-api-key or JOBBOT_GEMINI_API_KEY"))
			return scoring.HashingEmbedder{}, scoring.KeywordClassifier{}
		}

		gcfg := gemini.Config{APIKey: apiKey}
		if cfg.Gemini != nil {
			gcfg.Model = cfg.Gemini.Model
			gcfg.EmbeddingModel = cfg.Gemini.EmbeddingModel
			gcfg.MaxRetries = cfg.Gemini.MaxRetries
		}
		gen, err := gemini.NewGenerator(ctx, gcfg, log.With(zap.String("provider", "gemini")))
		if err != nil {
			log.Warn("gemini disabled, using offline models", zap.Error(err))
			return scoring.HashingEmbedder{}, scoring.KeywordClassifier{}
		}
		log.Info("gemini scoring enabled", zap.String("model", gen.Model()))
		return gen, gen
	default:
		log.Warn("unknown scoring provider, using offline models", zap.String("provider", provider))
		return scoring.HashingEmbedder{}, scoring.KeywordClassifier{}
	}
}

func loadProfile(cfg ScoringConfig) (string, error) {
	if file := strings.TrimSpace(cfg.ProfileFile); file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("reading profile file %q: %w", file, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(cfg.Profile), nil
}

// newLedger returns a redis ledger when an address is configured.
func newLedger(cfg ScheduleConfig, creds *secrets.Provider, log *zap.Logger) (scheduler.Ledger, io.Closer) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return scheduler.NewMemoryLedger(), nil
	}

	password, _ := creds.Get(credRedisPassword)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: password,
	})
	log.Info("using redis slot ledger", zap.String("addr", cfg.RedisAddr))
	return scheduler.NewRedisLedger(rdb, cfg.LedgerPrefix), rdb
}

func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
