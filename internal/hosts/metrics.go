package hosts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 流水线监控指标
type Metrics struct {
	ChecksTotal            *prometheus.CounterVec
	RepairsTotal           *prometheus.CounterVec
	WatchEventsTotal       prometheus.Counter
	DebounceSwallowedTotal prometheus.Counter
	Compliant              prometheus.Gauge
	RepairDuration         prometheus.Histogram
}

// NewMetrics 创建并注册监控指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostsguard_checks_total",
			Help: "对比检查总次数",
		}, []string{"result"}),
		RepairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostsguard_repairs_total",
			Help: "修复执行总次数",
		}, []string{"result"}),
		WatchEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostsguard_watch_events_total",
			Help: "监控到的文件变化批次总数",
		}),
		DebounceSwallowedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostsguard_debounce_swallowed_total",
			Help: "被去抖动吞掉的触发次数",
		}),
		Compliant: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hostsguard_compliant",
			Help: "最近一次检查 hosts 文件是否完整（1 完整 0 缺失）",
		}),
		RepairDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostsguard_repair_duration_seconds",
			Help:    "单次修复耗时（秒），含修复前延迟",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
