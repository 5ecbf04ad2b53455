package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Reddit struct {
		ClientID     string
		ClientSecret string
		UserAgent    string
		BaseURL      string
		Subreddit    string
		RateLimit    time.Duration
		Timeout      time.Duration
	}
	LLM struct {
		Provider string // "mistral" or "gemini"
		Model    string
	}
	Mistral struct {
		APIKey  string
		BaseURL string
	}
	Gemini struct {
		APIKey string
	}
	Prompt struct {
		System              string
		Template            string
		Temperature         float64
		MaxTokens           int
		VerifySystem        string
		VerifyTemplate      string
		MaxVerifyPostLen    int
		MaxVerifyCommentLen int
	}
	Embeddings struct {
		Host      string
		Model     string
		CacheSize int
	}
	Database struct {
		Type   string // "sqlite", "libsql" or "postgres"
		DBName string
		Url    string
		Token  string
	}
	Pipeline struct {
		BatchSize        int
		MaxRetries       int
		RetryBackoffBase time.Duration
		PerCallTimeout   time.Duration
		RunDeadline      time.Duration
		PostDelay        time.Duration
		Workers          int
		TopComments      int
		VerifyTopComment bool
	}
	Log struct {
		Level  string
		Format string
	}
}

func Load() (*Config, error) {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecrets(v)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindSecrets(v *viper.Viper) {
	v.BindEnv("reddit.client_id", "REDDIT_CLIENT_ID")
	v.BindEnv("reddit.client_secret", "REDDIT_CLIENT_SECRET")
	v.BindEnv("mistral.api_key", "MISTRAL_API_KEY")
	v.BindEnv("gemini.api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.token", "DATABASE_TOKEN")
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Reddit.ClientID = v.GetString("reddit.client_id")
	cfg.Reddit.ClientSecret = v.GetString("reddit.client_secret")
	cfg.Reddit.UserAgent = v.GetString("reddit.user_agent")
	cfg.Reddit.BaseURL = v.GetString("reddit.base_url")
	cfg.Reddit.Subreddit = v.GetString("reddit.subreddit")
	cfg.Reddit.RateLimit = v.GetDuration("reddit.rate_limit")
	cfg.Reddit.Timeout = v.GetDuration("reddit.timeout")

	cfg.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	cfg.LLM.Model = v.GetString("llm.model")

	cfg.Mistral.APIKey = v.GetString("mistral.api_key")
	cfg.Mistral.BaseURL = v.GetString("mistral.base_url")
	cfg.Gemini.APIKey = v.GetString("gemini.api_key")

	cfg.Prompt.System = v.GetString("prompt.system")
	cfg.Prompt.Template = v.GetString("prompt.template")
	cfg.Prompt.Temperature = v.GetFloat64("prompt.temperature")
	cfg.Prompt.MaxTokens = v.GetInt("prompt.max_tokens")
	cfg.Prompt.VerifySystem = v.GetString("prompt.verify_system")
	cfg.Prompt.VerifyTemplate = v.GetString("prompt.verify_template")
	cfg.Prompt.MaxVerifyPostLen = v.GetInt("prompt.max_verify_post_len")
	cfg.Prompt.MaxVerifyCommentLen = v.GetInt("prompt.max_verify_comment_len")

	cfg.Embeddings.Host = v.GetString("embeddings.host")
	cfg.Embeddings.Model = v.GetString("embeddings.model")
	cfg.Embeddings.CacheSize = v.GetInt("embeddings.cache_size")

	cfg.Database.Type = strings.ToLower(v.GetString("database.type"))
	cfg.Database.DBName = v.GetString("database.dbname")
	cfg.Database.Url = v.GetString("database.url")
	cfg.Database.Token = v.GetString("database.token")

	cfg.Pipeline.BatchSize = v.GetInt("pipeline.batch_size")
	cfg.Pipeline.MaxRetries = v.GetInt("pipeline.max_retries")
	cfg.Pipeline.RetryBackoffBase = v.GetDuration("pipeline.retry_backoff_base")
	cfg.Pipeline.PerCallTimeout = v.GetDuration("pipeline.per_call_timeout")
	cfg.Pipeline.RunDeadline = v.GetDuration("pipeline.run_deadline")
	cfg.Pipeline.PostDelay = v.GetDuration("pipeline.post_delay")
	cfg.Pipeline.Workers = v.GetInt("pipeline.workers")
	cfg.Pipeline.TopComments = v.GetInt("pipeline.top_comments")
	cfg.Pipeline.VerifyTopComment = v.GetBool("pipeline.verify_top_comment")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reddit.user_agent", "linux:advice-scorer:v0.1.0")
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.subreddit", "desabafos")
	v.SetDefault("reddit.rate_limit", "2s")
	v.SetDefault("reddit.timeout", "20s")

	v.SetDefault("llm.provider", "mistral")
	v.SetDefault("llm.model", "mistral-small-latest")
	v.SetDefault("mistral.base_url", "https://api.mistral.ai/v1")

	v.SetDefault("prompt.system", DefaultSystemPrompt)
	v.SetDefault("prompt.template", DefaultAdviceTemplate)
	v.SetDefault("prompt.temperature", 0.7)
	v.SetDefault("prompt.max_tokens", 350)
	v.SetDefault("prompt.verify_system", DefaultVerifySystemPrompt)
	v.SetDefault("prompt.verify_template", DefaultVerifyTemplate)
	v.SetDefault("prompt.max_verify_post_len", 1000)
	v.SetDefault("prompt.max_verify_comment_len", 500)

	v.SetDefault("embeddings.host", "http://localhost:11434")
	v.SetDefault("embeddings.model", "embeddinggemma")
	v.SetDefault("embeddings.cache_size", 512)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dbname", "data/advice.db")

	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_backoff_base", "500ms")
	v.SetDefault("pipeline.per_call_timeout", "30s")
	v.SetDefault("pipeline.run_deadline", "30m")
	v.SetDefault("pipeline.post_delay", "0s")
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.top_comments", 1)
	v.SetDefault("pipeline.verify_top_comment", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func validate(cfg *Config) error {
	if cfg.Reddit.Subreddit == "" {
		return fmt.Errorf("reddit.subreddit is required")
	}

	switch cfg.LLM.Provider {
	case "mistral":
		if cfg.Mistral.APIKey == "" {
			return fmt.Errorf("mistral.api_key is required")
		}
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	switch cfg.Database.Type {
	case "sqlite":
		if cfg.Database.DBName == "" {
			return fmt.Errorf("database.dbname is required")
		}
	case "libsql", "postgres":
		if cfg.Database.Url == "" {
			return fmt.Errorf("database.url is required for %s", cfg.Database.Type)
		}
	default:
		return fmt.Errorf("database.type %q is not supported", cfg.Database.Type)
	}

	if cfg.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if cfg.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative")
	}
	if cfg.Pipeline.RetryBackoffBase < 0 {
		return fmt.Errorf("pipeline.retry_backoff_base must not be negative")
	}
	if cfg.Pipeline.PerCallTimeout <= 0 {
		return fmt.Errorf("pipeline.per_call_timeout must be positive")
	}
	if cfg.Pipeline.RunDeadline < 0 {
		return fmt.Errorf("pipeline.run_deadline must not be negative")
	}
	if cfg.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if cfg.Pipeline.TopComments <= 0 {
		return fmt.Errorf("pipeline.top_comments must be positive")
	}
	if !strings.Contains(cfg.Prompt.Template, "{{body}}") {
		return fmt.Errorf("prompt.template must contain {{body}}")
	}
	return nil
}
