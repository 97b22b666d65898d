package hosts

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/winspan/hostsguard/pkg/logger"
)

// 测试公用的静默日志器
func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.FATAL,
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}
	return log
}

// 每个测试使用独立的指标注册表
func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// 静态规则快照来源
type staticRules []Rule

func (s staticRules) Snapshot() []Rule {
	return CloneRules(s)
}

// 记录触发次数的假修复器
type fakeRepairer struct {
	calls chan struct{}
}

func newFakeRepairer() *fakeRepairer {
	return &fakeRepairer{calls: make(chan struct{}, 16)}
}

func (f *fakeRepairer) TriggerRepair() bool {
	f.calls <- struct{}{}
	return true
}

func (f *fakeRepairer) triggered() bool {
	select {
	case <-f.calls:
		return true
	default:
		return false
	}
}
