package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobbot/internal/notifier"
	"github.com/spigell/jobbot/internal/secrets"
	"github.com/spigell/jobbot/internal/sources"
)

const (
	app       = "jobbot"
	envPrefix = "JOBBOT"
)

// Credential names resolved by the secrets provider.
const (
	credGeminiAPIKey  = "gemini-api-key"
	credPostgresURL   = "postgres-url"
	credRedisPassword = "redis-password"
)

var knownCredentials = []string{
	sources.AdzunaAppIDSecret,
	sources.AdzunaAppKeySecret,
	credGeminiAPIKey,
	notifier.AMQPURLSecret,
	credPostgresURL,
	credRedisPassword,
}

type Config struct {
	Search      sources.Search            `mapstructure:"search"`
	Sources     sources.Config            `mapstructure:"sources"`
	Schedule    ScheduleConfig            `mapstructure:"schedule"`
	Ranking     RankingConfig             `mapstructure:"ranking"`
	Normalize   NormalizeConfig           `mapstructure:"normalize"`
	Scoring     ScoringConfig             `mapstructure:"scoring"`
	Store       StoreConfig               `mapstructure:"store"`
	Notifier    NotifierConfig            `mapstructure:"notifier"`
	Cleanup     CleanupConfig             `mapstructure:"cleanup"`
	Send        SendConfig                `mapstructure:"send"`
	Log         LogConfig                 `mapstructure:"log"`
	Credentials map[string]secrets.Source `mapstructure:"credentials"`
}

type ScheduleConfig struct {
	ScrapeTimes  []string      `mapstructure:"scrape-times"`
	SendTimes    []string      `mapstructure:"send-times"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	// RedisAddr switches slot bookkeeping to redis so several processes
	// never fire the same slot twice.
	RedisAddr    string `mapstructure:"redis-addr"`
	LedgerPrefix string `mapstructure:"ledger-prefix"`
}

type RankingConfig struct {
	SemanticThreshold float64  `mapstructure:"semantic-threshold"`
	RatingThreshold   int      `mapstructure:"rating-threshold"`
	MinimumSalary     float64  `mapstructure:"minimum-salary"`
	RedFlags          []string `mapstructure:"red-flags"`
	ExcludedCompanies []string `mapstructure:"excluded-companies"`
	Disabled          []string `mapstructure:"disabled-filters"`
}

type NormalizeConfig struct {
	MaxDescriptionLength int     `mapstructure:"max-description-length"`
	HoursPerWeek         float64 `mapstructure:"hours-per-week"`
	WeeksPerYear         float64 `mapstructure:"weeks-per-year"`
	DaysPerWeek          float64 `mapstructure:"days-per-week"`
}

type ScoringConfig struct {
	// Provider is gemini or offline.
	Provider        string        `mapstructure:"provider"`
	Profile         string        `mapstructure:"profile"`
	ProfileFile     string        `mapstructure:"profile-file"`
	MinTextLength   int           `mapstructure:"min-text-length"`
	MaxReviewLength int           `mapstructure:"max-review-length"`
	Concurrency     int           `mapstructure:"concurrency"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	MaxRetries     int    `mapstructure:"max-retries"`
}

type StoreConfig struct {
	// Driver is sqlite or postgres. The postgres url is a credential.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type NotifierConfig struct {
	// Kind is log or amqp.
	Kind string              `mapstructure:"kind"`
	AMQP notifier.AMQPConfig `mapstructure:"amqp"`
}

type CleanupConfig struct {
	JobRetentionDays int    `mapstructure:"job-retention-days"`
	LogRetentionDays int    `mapstructure:"log-retention-days"`
	LogDir           string `mapstructure:"log-dir"`
}

type SendConfig struct {
	BatchSize int `mapstructure:"batch-size"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

var (
	// Used for flags.
	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobbot scrapes job boards, ranks listings against your profile and sends you the best ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobbot.yaml in current directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "a dotenv file loaded before reading the config")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.keywords", "")
	v.SetDefault("search.location", "Leigh")
	v.SetDefault("search.postcode", "WN7 1NX")
	v.SetDefault("search.radius-miles", 5)
	v.SetDefault("search.part-time-only", true)

	v.SetDefault("sources.timeout", sources.DefaultTimeout)
	v.SetDefault("sources.adzuna.enabled", true)
	v.SetDefault("sources.adzuna.country", "gb")
	v.SetDefault("sources.adzuna.daily-limit", 25)
	v.SetDefault("sources.adzuna.requests-per-minute", 30)

	v.SetDefault("schedule.scrape-times", []string{"08:30", "13:45", "17:00"})
	v.SetDefault("schedule.send-times", []string{"09:00", "18:00", "21:00"})
	v.SetDefault("schedule.poll-interval", 30*time.Second)
	v.SetDefault("schedule.cooldown", 60*time.Second)
	v.SetDefault("schedule.redis-addr", "")
	v.SetDefault("schedule.ledger-prefix", app)

	v.SetDefault("ranking.semantic-threshold", 0.7)
	v.SetDefault("ranking.rating-threshold", 6)
	v.SetDefault("ranking.minimum-salary", 11000)
	v.SetDefault("ranking.red-flags", []string{})
	v.SetDefault("ranking.excluded-companies", []string{})
	v.SetDefault("ranking.disabled-filters", []string{})

	v.SetDefault("normalize.max-description-length", 1000)
	v.SetDefault("normalize.hours-per-week", 40)
	v.SetDefault("normalize.weeks-per-year", 52)
	v.SetDefault("normalize.days-per-week", 5)

	v.SetDefault("scoring.provider", "gemini")
	v.SetDefault("scoring.profile", "")
	v.SetDefault("scoring.profile-file", "")
	v.SetDefault("scoring.min-text-length", 10)
	v.SetDefault("scoring.max-review-length", 512)
	v.SetDefault("scoring.concurrency", 4)
	v.SetDefault("scoring.gemini.model", "gemini-2.5-flash")
	v.SetDefault("scoring.gemini.embedding-model", "text-embedding-004")
	v.SetDefault("scoring.gemini.max-retries", 3)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/jobbot.db")

	v.SetDefault("notifier.kind", "log")
	v.SetDefault("notifier.amqp.jobs-queue", "jobbot.jobs")
	v.SetDefault("notifier.amqp.decisions-queue", "jobbot.decisions")
	v.SetDefault("notifier.amqp.publish-timeout", 5*time.Second)

	v.SetDefault("cleanup.job-retention-days", 30)
	v.SetDefault("cleanup.log-retention-days", 14)
	v.SetDefault("cleanup.log-dir", "./logs")

	v.SetDefault("send.batch-size", 50)
	v.SetDefault("log.file", "")

	// Credentials are only unmarshalled when viper knows their keys.
	for _, name := range knownCredentials {
		v.SetDefault("credentials."+name+".value", "")
		v.SetDefault("credentials."+name+".file", "")
	}
}

func initConfig() {
	// Subcommands that do not touch the pipeline need no config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading %s: %v", envFile, err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindCredentialEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine: every key has a default.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

// bindCredentialEnv accepts the short JOBBOT_<NAME> and JOBBOT_<NAME>_FILE
// forms next to the generated JOBBOT_CREDENTIALS_<NAME>_VALUE ones.
func bindCredentialEnv(v *viper.Viper) {
	for _, name := range knownCredentials {
		valueEnv, fileEnv := secrets.EnvNames(envPrefix, name)
		generated, _ := secrets.EnvNames(envPrefix, "credentials."+name+".value")
		if err := v.BindEnv("credentials."+name+".value", valueEnv, generated); err != nil {
			log.Fatalf("binding %s environment variable: %v", valueEnv, err)
		}
		if err := v.BindEnv("credentials."+name+".file", fileEnv); err != nil {
			log.Fatalf("binding %s environment variable: %v", fileEnv, err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
