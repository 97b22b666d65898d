package hosts

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/winspan/hostsguard/pkg/logger"
)

// Checker 检查触发接口，由监控模块驱动
type Checker interface {
	TriggerCheck() bool
}

// Monitor 监控模块
// 拥有一个后台协程，监控 hosts 文件和规则文件的变化，
// 经过去抖动后触发对比模块；同时消费手动触发队列
type Monitor struct {
	hostsPath string
	rulesPath string
	delay     time.Duration
	checker   Checker
	log       *logger.Logger
	metrics   *Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// 手动触发队列，true 表示绕过去抖动立即检查
	triggerCh chan bool

	lastMu      sync.Mutex
	lastTrigger time.Time
}

// NewMonitor 创建监控模块
func NewMonitor(hostsPath, rulesPath string, delay time.Duration, checker Checker,
	log *logger.Logger, metrics *Metrics) *Monitor {
	return &Monitor{
		hostsPath: filepath.Clean(hostsPath),
		rulesPath: filepath.Clean(rulesPath),
		delay:     delay,
		checker:   checker,
		log:       log,
		metrics:   metrics,
		triggerCh: make(chan bool, 16),
	}
}

// IsRunning 返回监控是否在运行
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start 启动监控，重复调用直接返回
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.log.Warn("监控已在运行中")
		return
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true

	go m.watchLoop(m.stopCh, m.doneCh)
	m.log.Info("监控模块已启动")
}

// Stop 停止监控
// 发出协作式停止信号后最多等待 3 秒，超时记录警告后返回，不强杀协程
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.log.Info("正在停止监控模块...")
	close(m.stopCh)
	doneCh := m.doneCh
	m.running = false
	m.mu.Unlock()

	select {
	case <-doneCh:
		m.log.Info("监控模块已停止")
	case <-time.After(3 * time.Second):
		m.log.Warn("监控线程未能在指定时间内退出")
	}
}

// NotifyRulesChanged 规则变更信号，绕过去抖动请求立即检查
func (m *Monitor) NotifyRulesChanged() {
	select {
	case m.triggerCh <- true:
	default:
		m.log.Debug("手动触发队列已满，丢弃本次请求")
	}
}

// RequestCheck 请求一次检查，与文件变化通知走同样的去抖动逻辑
func (m *Monitor) RequestCheck() {
	select {
	case m.triggerCh <- false:
	default:
		m.log.Debug("手动触发队列已满，丢弃本次请求")
	}
}

// debounce 去抖动检查，距上次接受的触发不足 delay 时返回 false
func (m *Monitor) debounce() bool {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()

	now := time.Now()
	if now.Sub(m.lastTrigger) < m.delay {
		m.log.Debug("触发去抖动逻辑，跳过此次处理 (间隔: %v)", now.Sub(m.lastTrigger))
		return false
	}
	m.lastTrigger = now
	return true
}

// markTriggered 记录一次接受的触发时间
func (m *Monitor) markTriggered() {
	m.lastMu.Lock()
	m.lastTrigger = time.Now()
	m.lastMu.Unlock()
}

// handleTrigger 处理一次触发（文件变化或手动请求）
func (m *Monitor) handleTrigger(force bool) {
	if force {
		m.markTriggered()
	} else if !m.debounce() {
		m.metrics.DebounceSwallowedTotal.Inc()
		return
	}
	m.log.Info("触发对比模块")
	m.checker.TriggerCheck()
}

// watchLoop 监控主循环
// 订阅失败时记录错误并休眠后重建订阅，用有界循环代替递归重试
func (m *Monitor) watchLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer m.log.Info("文件监控已停止")

	// 启动后先无条件比对一次，立即发现监控启动前已产生的偏差
	m.markTriggered()
	m.checker.TriggerCheck()

	for {
		if !m.watchOnce(stopCh) {
			return
		}

		// 订阅异常，休眠后重试
		m.log.Info("3秒后尝试重新启动文件监控...")
		select {
		case <-stopCh:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

// watchOnce 建立一次通知订阅并消费事件
// 返回 false 表示收到停止信号，返回 true 表示订阅异常需要重建
func (m *Monitor) watchOnce(stopCh chan struct{}) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.Error("创建文件监控失败: %v", err)
		return true
	}
	defer watcher.Close()

	// 监控目标文件所在目录，文件被替换重建时也能收到通知
	dirs := map[string]struct{}{
		filepath.Dir(m.hostsPath): {},
		filepath.Dir(m.rulesPath): {},
	}
	watched := 0
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			m.log.Warn("添加监控目录失败: %s: %v", dir, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		m.log.Error("没有可监控的有效文件路径")
		return true
	}
	m.log.Info("开始监控文件: %s, %s", m.hostsPath, m.rulesPath)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return false

		case force := <-m.triggerCh:
			m.handleTrigger(force)

		case event, ok := <-watcher.Events:
			if !ok {
				m.log.Error("监控事件通道已关闭")
				return true
			}
			if !m.isWatchedPath(event.Name) {
				continue
			}
			m.log.Info("检测到文件变化: %s (变化类型: %s)", event.Name, event.Op)
			m.metrics.WatchEventsTotal.Inc()
			// 同一批变化只触发一次比对
			m.drainEvents(watcher)
			m.handleTrigger(false)

		case err, ok := <-watcher.Errors:
			if !ok {
				m.log.Error("监控错误通道已关闭")
				return true
			}
			m.log.Error("监控文件时发生错误: %v", err)
			return true

		case <-ticker.C:
			// 周期性唤醒，保证停止信号及时被观察到
		}
	}
}

// drainEvents 吸收同一批次中积压的其余事件
func (m *Monitor) drainEvents(watcher *fsnotify.Watcher) {
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// isWatchedPath 判断事件路径是否为监控目标文件
func (m *Monitor) isWatchedPath(name string) bool {
	clean := filepath.Clean(name)
	return clean == m.hostsPath || clean == m.rulesPath
}
