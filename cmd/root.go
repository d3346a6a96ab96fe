package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "skillbridge"
)

type Config struct {
	Server     *ServerConfig     `mapstructure:"server"`
	Queue      *QueueConfig      `mapstructure:"queue"`
	NLP        *NLPConfig        `mapstructure:"nlp"`
	Similarity *SimilarityConfig `mapstructure:"similarity"`
	AI         *AIConfig         `mapstructure:"ai"`
	Courses    *CoursesConfig    `mapstructure:"courses"`
	Cache      *CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type QueueConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	JobTimeout         time.Duration `mapstructure:"job-timeout"`
	Retention          time.Duration `mapstructure:"retention"`
	SweepInterval      time.Duration `mapstructure:"sweep-interval"`
	AverageJobDuration time.Duration `mapstructure:"average-job-duration"`
}

type NLPConfig struct {
	ModelServerURL string `mapstructure:"model-server-url"`
}

type SimilarityConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type AIConfig struct {
	Gemini *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
}

type CoursesConfig struct {
	Meilisearch *MeilisearchConfig `mapstructure:"meilisearch"`
	Index       string             `mapstructure:"index"`
}

type MeilisearchConfig struct {
	Host       string `mapstructure:"host"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type CacheConfig struct {
	Redis *RedisConfig  `mapstructure:"redis"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "skillbridge matches resumes against job descriptions and recommends courses to close the skill gap",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("courses.meilisearch.api-key-file", "MEILISEARCH_API_KEY_FILE"); err != nil {
		log.Fatalf("binding MEILISEARCH_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("cache.redis.password-file", "REDIS_PASSWORD_FILE"); err != nil {
		log.Fatalf("binding REDIS_PASSWORD_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is skillbridge.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only serve and index need the config file; version must work without one.
	if serveCmd.CalledAs() == "" && indexCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
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
