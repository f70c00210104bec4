package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	LLM       LLMConfig
	Reranker  RerankerConfig
	Retrieval RetrievalConfig
	Coverage  CoverageConfig
	Chat      ChatConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int

	// Model tiers for confidence-based routing.
	FastModel     string
	StandardModel string
	QualityModel  string
}

type RerankerConfig struct {
	Enabled    bool
	Endpoint   string
	InitialK   int
	TimeoutSec int
}

type RetrievalConfig struct {
	TopK int

	// Intent-specific similarity thresholds. QA is precision-biased,
	// analysis is recall-biased, writing sits between.
	DefaultThreshold  float64
	QAThreshold       float64
	AnalysisThreshold float64
	WritingThreshold  float64

	QATopK int
}

type CoverageConfig struct {
	// Diverse sampling target and the ceiling applied when a caller
	// asks for escalated coverage.
	TargetFragments  int
	MaxFragments     int
	ExcerptMaxLength int
}

type ChatConfig struct {
	HistoryTurns int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/draftsmith")

	viper.SetEnvPrefix("DRAFTSMITH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/draftsmith.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "document_fragments")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.fastModel", "gpt-4o-mini")
	viper.SetDefault("llm.standardModel", "gpt-4o")
	viper.SetDefault("llm.qualityModel", "gpt-4-turbo")

	viper.SetDefault("reranker.enabled", false)
	viper.SetDefault("reranker.endpoint", "http://localhost:8501/rerank")
	viper.SetDefault("reranker.initialK", 20)
	viper.SetDefault("reranker.timeoutSec", 10)

	viper.SetDefault("retrieval.topK", 10)
	viper.SetDefault("retrieval.defaultThreshold", 0.35)
	viper.SetDefault("retrieval.qaThreshold", 0.50)
	viper.SetDefault("retrieval.analysisThreshold", 0.25)
	viper.SetDefault("retrieval.writingThreshold", 0.35)
	viper.SetDefault("retrieval.qaTopK", 20)

	viper.SetDefault("coverage.targetFragments", 30)
	viper.SetDefault("coverage.maxFragments", 60)
	viper.SetDefault("coverage.excerptMaxLength", 200)

	viper.SetDefault("chat.historyTurns", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
