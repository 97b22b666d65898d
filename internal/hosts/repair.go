package hosts

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/winspan/hostsguard/pkg/logger"
)

// Gate 权限门控能力
// 流水线只消费提权状态，从不尝试自行提权
type Gate interface {
	IsElevated() bool
}

// ErrNotElevated 当前进程没有管理员权限
var ErrNotElevated = errors.New("当前程序没有管理员权限")

// Repairer 修复模块
// 单次修复流程：延迟 → 获取共享读写句柄 → 读取 → 合并 → 按需写回 → 释放句柄
// 任一阶段失败都会记录日志并释放已持有的句柄
type Repairer struct {
	path    string
	delay   time.Duration
	maxRead int
	rules   RuleSource
	gate    Gate
	log     *logger.Logger
	metrics *Metrics
	journal Recorder

	running atomic.Bool
}

// NewRepairer 创建修复模块
func NewRepairer(path string, delay time.Duration, maxRead int, rules RuleSource,
	gate Gate, log *logger.Logger, metrics *Metrics, journal Recorder) *Repairer {
	if journal == nil {
		journal = NopRecorder{}
	}
	return &Repairer{
		path:    path,
		delay:   delay,
		maxRead: maxRead,
		rules:   rules,
		gate:    gate,
		log:     log,
		metrics: metrics,
		journal: journal,
	}
}

// Running 返回是否有修复正在执行
func (r *Repairer) Running() bool {
	return r.running.Load()
}

// TriggerRepair 异步触发一次修复
// 同一时刻只允许一次修复在执行，重复触发被丢弃而不是排队
func (r *Repairer) TriggerRepair() bool {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn("修复模块已在运行中，忽略本次触发")
		return false
	}
	go func() {
		defer r.running.Store(false)
		if err := r.Repair(); err != nil {
			r.log.Error("hosts 文件修复失败: %v", err)
		}
	}()
	return true
}

// Repair 同步执行一次修复
func (r *Repairer) Repair() error {
	r.log.Info("修复模块启动")
	defer r.log.Info("修复模块关闭")

	start := time.Now()

	// 权限门控：没有管理员权限时立即放弃，绝不尝试注定失败的写入
	if r.gate == nil || !r.gate.IsElevated() {
		r.log.Error("当前程序没有管理员权限，无法修复 hosts 文件，修复模块关闭")
		r.metrics.RepairsTotal.WithLabelValues("denied").Inc()
		r.journal.Record("repair", "denied", "缺少管理员权限")
		return ErrNotElevated
	}

	// 延迟等待，合并突发触发，也给并发的外部编辑留出落盘时间
	r.log.Info("等待延迟时间: %d毫秒", r.delay.Milliseconds())
	time.Sleep(r.delay)

	// 获取共享读写句柄，刻意不独占锁定，避免饿死并发读写该文件的其他进程
	f, err := openShared(r.path)
	if err != nil {
		r.log.Error("无法获取 hosts 文件写入权限: %v", err)
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("打开文件失败: %v", err))
		return fmt.Errorf("打开 hosts 文件失败: %v", err)
	}
	// 无论成功失败都释放句柄
	defer func() {
		f.Close()
		r.log.Info("已释放 hosts 文件写入权限")
	}()
	r.log.Info("成功获取 hosts 文件写入权限")

	// 读取现有内容
	data, err := io.ReadAll(io.LimitReader(f, int64(r.maxRead)))
	if err != nil {
		r.log.Error("读取文件内容时发生错误: %v", err)
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("读取失败: %v", err))
		return fmt.Errorf("读取 hosts 文件失败: %v", err)
	}
	// 文件为空时继续走合并流程，规则块会被直接写入
	content := string(data)
	if !utf8.Valid(data) {
		// 非法 UTF-8 字节降级为替换解码
		content = strings.ToValidUTF8(content, "�")
	}

	// 按规则集顺序合并每条启用规则的块
	merged := MergeRules(content, r.rules.Snapshot())

	// 内容无变化时跳过写入，避免自触发通知风暴和无谓的磁盘 IO
	if merged == content {
		r.log.Info("hosts 文件内容无变化，跳过写入")
		r.metrics.RepairsTotal.WithLabelValues("noop").Inc()
		r.metrics.RepairDuration.Observe(time.Since(start).Seconds())
		return nil
	}

	// 写回：回到文件开头写入新内容，截断多余字节并刷盘
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("定位文件失败: %v", err))
		return fmt.Errorf("定位文件开头失败: %v", err)
	}
	if _, err := f.WriteString(merged); err != nil {
		r.log.Error("写入文件内容时发生错误: %v", err)
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("写入失败: %v", err))
		return fmt.Errorf("写入 hosts 文件失败: %v", err)
	}
	if err := f.Truncate(int64(len(merged))); err != nil {
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("截断失败: %v", err))
		return fmt.Errorf("截断 hosts 文件失败: %v", err)
	}
	if err := f.Sync(); err != nil {
		r.metrics.RepairsTotal.WithLabelValues("failed").Inc()
		r.journal.Record("repair", "failed", fmt.Sprintf("刷盘失败: %v", err))
		return fmt.Errorf("刷新 hosts 文件失败: %v", err)
	}

	r.log.Info("成功写入新的 hosts 文件内容")
	r.metrics.RepairsTotal.WithLabelValues("success").Inc()
	r.metrics.RepairDuration.Observe(time.Since(start).Seconds())
	r.journal.Record("repair", "success", fmt.Sprintf("写入 %d 字节", len(merged)))
	return nil
}
