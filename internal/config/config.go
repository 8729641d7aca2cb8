package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RAG      RagConfig      `mapstructure:"rag"`
	Analyze  AnalyzeConfig  `mapstructure:"analyze"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// DatabaseConfig PostgreSQL 配置，Host 为空时不连接数据库
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	// silent | error | warn | info
	LogLevel      string        `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Enabled 是否配置了数据库
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig Redis 配置，Host 为空时不连接
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Enabled 是否配置了 Redis
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RagConfig 政策检索配置
type RagConfig struct {
	VectorStore      VectorStoreConfig `mapstructure:"vector_store"`
	Embedding        EmbeddingConfig   `mapstructure:"embedding"`
	Lexical          LexicalConfig     `mapstructure:"lexical"`
	PolicyDir        string            `mapstructure:"policy_dir"`
	ChunkSize        int               `mapstructure:"chunk_size"`
	ChunkOverlap     int               `mapstructure:"chunk_overlap"`
	TopK             int               `mapstructure:"top_k"`
	SnippetMaxChars  int               `mapstructure:"snippet_max_chars"`
	QueryConcurrency int               `mapstructure:"query_concurrency"`
	QueryTablePath   string            `mapstructure:"query_table_path"`
	Vector           ThresholdConfig   `mapstructure:"vector"`
	Hybrid           HybridConfig      `mapstructure:"hybrid"`
	Watch            WatchConfig       `mapstructure:"watch"`
}

// WatchConfig 政策目录监听，文件变化后自动重建索引
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	Type   string       `mapstructure:"type"` // memory, pgvector, qdrant
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	Collection      string `mapstructure:"collection"`
	VectorDimension int    `mapstructure:"vector_dimension"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Provider  string               `mapstructure:"provider"` // hash, openai
	Model     string               `mapstructure:"model"`
	APIKey    string               `mapstructure:"api_key"`
	BaseURL   string               `mapstructure:"base_url"`
	Dimension int                  `mapstructure:"dimension"` // hash 提供者使用
	Cache     EmbeddingCacheConfig `mapstructure:"cache"`
}

// EmbeddingCacheConfig 向量缓存配置（需要 Redis）
type EmbeddingCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LexicalConfig 关键词检索配置
type LexicalConfig struct {
	Type string `mapstructure:"type"` // bm25, postgres
}

// ThresholdConfig 距离阈值
type ThresholdConfig struct {
	ThresholdEnabled  bool    `mapstructure:"threshold_enabled"`
	DistanceThreshold float64 `mapstructure:"distance_threshold"`
}

// HybridConfig 混合检索配置
type HybridConfig struct {
	ThresholdConfig `mapstructure:",squash"`
	LexicalWeight   float64 `mapstructure:"lexical_weight"`
	VectorWeight    float64 `mapstructure:"vector_weight"`
}

// AnalyzeConfig 分析接口配置
type AnalyzeConfig struct {
	DefaultMode string `mapstructure:"default_mode"`
	// RecordResults 配置数据库时把每次分析结果写入 analysis_records
	RecordResults bool `mapstructure:"record_results"`
}

// WorkerConfig 后台任务配置（需要 Redis）
type WorkerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// IngestConfig 流式日志接入配置
type IngestConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig Kafka 消费配置；ResultTopic 为空时只记录日志不回写结果
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	GroupID     string   `mapstructure:"group_id"`
	ResultTopic string   `mapstructure:"result_topic"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_RAG_TOP_K
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("rag.vector_store.type", "memory")
	v.SetDefault("rag.vector_store.qdrant.collection", "policy_chunks")
	v.SetDefault("rag.vector_store.qdrant.timeout_seconds", 10)
	v.SetDefault("rag.embedding.provider", "hash")
	v.SetDefault("rag.embedding.dimension", 256)
	v.SetDefault("rag.embedding.cache.prefix", "logwatch:emb:")
	v.SetDefault("rag.embedding.cache.ttl", 24*time.Hour)
	v.SetDefault("rag.lexical.type", "bm25")
	v.SetDefault("rag.policy_dir", "./data/policies")
	v.SetDefault("rag.chunk_size", 900)
	v.SetDefault("rag.chunk_overlap", 150)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.snippet_max_chars", 360)
	v.SetDefault("rag.query_concurrency", 4)
	v.SetDefault("rag.vector.distance_threshold", 0.35)
	v.SetDefault("rag.hybrid.distance_threshold", 0.35)
	v.SetDefault("rag.hybrid.lexical_weight", 0.4)
	v.SetDefault("rag.hybrid.vector_weight", 0.6)

	v.SetDefault("rag.watch.debounce", 500*time.Millisecond)

	v.SetDefault("analyze.default_mode", "hybrid")
	v.SetDefault("analyze.record_results", true)

	v.SetDefault("worker.concurrency", 2)

	v.SetDefault("ingest.kafka.topic", "access-logs")
	v.SetDefault("ingest.kafka.group_id", "logwatch")
	v.SetDefault("ingest.kafka.result_topic", "access-risk")
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}
