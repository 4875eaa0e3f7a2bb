package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/agora/internal/embedding"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Config is the top-level configuration structure.
type Config struct {
	DataPath  string `json:"data_path" yaml:"data_path"`
	SavePath  string `json:"save_path" yaml:"save_path"`
	LoadModel string `json:"load_model" yaml:"load_model"`

	TimeInitBegin string `json:"time_init_begin" yaml:"time_init_begin"`
	TimeInitEnd   string `json:"time_init_end" yaml:"time_init_end"`
	TimeSimBegin  string `json:"time_sim_begin" yaml:"time_sim_begin"`
	TimeSimEnd    string `json:"time_sim_end" yaml:"time_sim_end"`
	TimeIntv      string `json:"time_intv" yaml:"time_intv"` // replay bucket
	Interval      string `json:"interval" yaml:"interval"`   // simulation step

	Mode          string `json:"mode" yaml:"mode"`
	ReactStrategy string `json:"react_strategy" yaml:"react_strategy"`
	ForcePost     bool   `json:"force_post" yaml:"force_post"`
	MaxWorkers    int    `json:"max_workers" yaml:"max_workers"`
	Seed          int64  `json:"seed" yaml:"seed"`
	RecommendK    int    `json:"recommend_k" yaml:"recommend_k"`
	InitPosts     int    `json:"init_posts" yaml:"init_posts"`

	LLM       LLMConfig        `json:"llm" yaml:"llm"`
	Embedding embedding.Config `json:"embedding" yaml:"embedding"`
	Memory    MemoryConfig     `json:"memory" yaml:"memory"`
	Ranking   RankingConfig    `json:"ranking" yaml:"ranking"`
	Database  DatabaseConfig   `json:"database" yaml:"database"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
	Server    ServerConfig     `json:"server" yaml:"server"`
}

type LLMConfig struct {
	Providers []provider.ProviderConfig `json:"providers" yaml:"providers"`
	Default   string                    `json:"default" yaml:"default"` // provider id
	SFT       string                    `json:"sft" yaml:"sft"`         // provider id serving the fine-tuned model
	Fallbacks []string                  `json:"fallbacks" yaml:"fallbacks"`
	Model     string                    `json:"model" yaml:"model"`
	FTModel   string                    `json:"ft_model" yaml:"ft_model"`
	UseSFT    bool                      `json:"use_sft" yaml:"use_sft"`
	Retries   int                       `json:"retries" yaml:"retries"`
	Backoff   time.Duration             `json:"backoff" yaml:"backoff"`
	QPS       float64                   `json:"qps" yaml:"qps"`
	Burst     int                       `json:"burst" yaml:"burst"`
	MaxTokens int                       `json:"max_tokens" yaml:"max_tokens"`
	CallLog   string                    `json:"call_log" yaml:"call_log"`
}

type MemoryConfig struct {
	K                   int     `json:"k" yaml:"k"`
	DecayRate           float64 `json:"decay_rate" yaml:"decay_rate"`
	ImportanceWeight    float64 `json:"importance_weight" yaml:"importance_weight"`
	SkipEmptyReflection bool    `json:"skip_empty_reflection" yaml:"skip_empty_reflection"`
}

type RankingConfig struct {
	DecayFactor   float64 `json:"decay_factor" yaml:"decay_factor"`
	AffinityLikes int     `json:"affinity_likes" yaml:"affinity_likes"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn" yaml:"dsn"`
	Migrations string `json:"migrations" yaml:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL    string `json:"url" yaml:"url"`
	Stream string `json:"stream" yaml:"stream"`
}

type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Collection string `json:"collection" yaml:"collection"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	Channel  string `json:"channel" yaml:"channel"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

type ServerConfig struct {
	Listen   string `json:"listen" yaml:"listen"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a YAML or JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal([]byte(resolved), &cfg)
	default:
		err = yaml.Unmarshal([]byte(resolved), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "planned"
	}
	if c.ReactStrategy == "" {
		c.ReactStrategy = "batch"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 10
	}
	if c.RecommendK <= 0 {
		c.RecommendK = 10
	}
	if c.InitPosts <= 0 {
		c.InitPosts = 200
	}
	if c.TimeIntv == "" {
		c.TimeIntv = "1d"
	}
	if c.Interval == "" {
		c.Interval = "1H"
	}
	if c.LLM.Retries <= 0 {
		c.LLM.Retries = 3
	}
	if c.LLM.Backoff == 0 {
		c.LLM.Backoff = 3 * time.Second
	}
	if c.Embedding.Retries <= 0 {
		c.Embedding.Retries = 3
	}
	if c.Memory.K <= 0 {
		c.Memory.K = 5
	}
	if c.Memory.DecayRate == 0 {
		c.Memory.DecayRate = 1e-6
	}
	if c.Ranking.DecayFactor == 0 {
		c.Ranking.DecayFactor = 0.96
	}
	if c.Ranking.AffinityLikes <= 0 {
		c.Ranking.AffinityLikes = 5
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = "agora:events"
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "agora_messages"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if c.SavePath == "" {
		return fmt.Errorf("save_path is required")
	}
	w, err := c.Window()
	if err != nil {
		return err
	}
	if w.InitInterval.IsZero() {
		return fmt.Errorf("time_intv %q: must advance time", c.TimeIntv)
	}
	if w.Interval.IsZero() {
		return fmt.Errorf("interval %q: must advance time", c.Interval)
	}
	if !w.InitBegin.Before(w.InitEnd) {
		return fmt.Errorf("time_init_begin must be before time_init_end")
	}
	if !w.SimBegin.Before(w.SimEnd) {
		return fmt.Errorf("time_sim_begin must be before time_sim_end")
	}
	switch c.Mode {
	case "planned", "fixed":
	default:
		return fmt.Errorf("mode %q: want planned or fixed", c.Mode)
	}
	switch c.ReactStrategy {
	case "one", "batch":
	default:
		return fmt.Errorf("react_strategy %q: want one or batch", c.ReactStrategy)
	}
	return nil
}

// Window is the parsed run timeline.
type Window struct {
	InitBegin, InitEnd time.Time
	SimBegin, SimEnd   time.Time
	InitInterval       timeutil.Interval
	Interval           timeutil.Interval
}

// Window parses the time fields.
func (c *Config) Window() (Window, error) {
	var w Window
	for _, f := range []struct {
		name string
		in   string
		out  *time.Time
	}{
		{"time_init_begin", c.TimeInitBegin, &w.InitBegin},
		{"time_init_end", c.TimeInitEnd, &w.InitEnd},
		{"time_sim_begin", c.TimeSimBegin, &w.SimBegin},
		{"time_sim_end", c.TimeSimEnd, &w.SimEnd},
	} {
		t, err := timeutil.Parse(f.in)
		if err != nil {
			return Window{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = t
	}
	var err error
	if w.InitInterval, err = timeutil.ParseInterval(c.TimeIntv); err != nil {
		return Window{}, fmt.Errorf("time_intv: %w", err)
	}
	if w.Interval, err = timeutil.ParseInterval(c.Interval); err != nil {
		return Window{}, fmt.Errorf("interval: %w", err)
	}
	return w, nil
}
