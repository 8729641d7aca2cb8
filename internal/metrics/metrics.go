package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwatch_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logwatch_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节）
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logwatch_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logwatch_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 分析指标
var (
	// AnalyzeTotal 分析请求总数（按最终决策）
	AnalyzeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwatch_analyze_total",
			Help: "分析请求总数",
		},
		[]string{"decision"},
	)

	// GuardrailDowngradesTotal 因缺少政策依据被降级的次数
	GuardrailDowngradesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logwatch_guardrail_downgrades_total",
			Help: "无政策依据时 ESCALATE 降级为 REVIEW 的次数",
		},
	)
)

// 检索指标
var (
	// RetrievalDuration 检索耗时（秒）
	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logwatch_retrieval_duration_seconds",
			Help:    "政策检索耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2},
		},
		[]string{"mode"},
	)

	// RetrievalEvidence 单次检索返回的证据数量
	RetrievalEvidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logwatch_retrieval_evidence",
			Help:    "政策检索返回证据数量分布",
			Buckets: []float64{0, 1, 3, 5, 10, 20},
		},
		[]string{"mode"},
	)

	// RetrievalErrorsTotal 检索失败次数
	RetrievalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwatch_retrieval_errors_total",
			Help: "政策检索失败次数",
		},
		[]string{"mode"},
	)

	// IndexChunks 当前索引中的分块数
	IndexChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logwatch_index_chunks",
			Help: "政策索引中的分块数量",
		},
	)
)

// 接入指标
var (
	// IngestMessagesTotal Kafka 消息处理结果
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwatch_ingest_messages_total",
			Help: "Kafka 访问日志消息处理数",
		},
		[]string{"status"}, // ok, invalid, failed
	)
)

// 系统指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logwatch_db_connections",
			Help: "数据库连接数",
		},
		[]string{"state"}, // open, in_use, idle
	)
)
