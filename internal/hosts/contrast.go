package hosts

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/winspan/hostsguard/pkg/logger"
)

// Repairable 修复能力接口，由对比模块在发现缺失时触发
type Repairable interface {
	TriggerRepair() bool
}

// ExcessEntry 不属于任何启用规则的映射行（只读诊断结果）
type ExcessEntry struct {
	Line   int    `json:"line"`
	IP     string `json:"ip"`
	Domain string `json:"domain"`
}

// 系统别名白名单，诊断时不视为多余条目
var systemAliases = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"broadcasthost":         {},
}

// Contraster 对比模块
// 无共享可变状态，每次检查都重新读取文件和规则快照，可安全并发调用
type Contraster struct {
	path     string
	maxRead  int
	rules    RuleSource
	repairer Repairable
	log      *logger.Logger
	metrics  *Metrics
	journal  Recorder

	checking atomic.Bool
}

// NewContraster 创建对比模块
func NewContraster(path string, maxRead int, rules RuleSource, repairer Repairable,
	log *logger.Logger, metrics *Metrics, journal Recorder) *Contraster {
	if journal == nil {
		journal = NopRecorder{}
	}
	return &Contraster{
		path:     path,
		maxRead:  maxRead,
		rules:    rules,
		repairer: repairer,
		log:      log,
		metrics:  metrics,
		journal:  journal,
	}
}

// readFileCapped 读取文件内容，限制读取上限并容忍非法编码
func readFileCapped(path string, maxRead int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxRead)))
	if err != nil {
		return "", err
	}

	// 非法 UTF-8 字节降级为替换解码
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	return string(data), nil
}

// TriggerCheck 异步触发一次检查
// 同一时刻只允许一次检查在执行，重复触发被丢弃
func (c *Contraster) TriggerCheck() bool {
	if !c.checking.CompareAndSwap(false, true) {
		c.log.Warn("对比模块已在运行中，忽略本次触发")
		return false
	}
	go func() {
		defer c.checking.Store(false)
		c.Check()
	}()
	return true
}

// Check 执行一次对比
// 返回 hosts 文件是否完整包含所有启用规则；文件不可读时返回错误且不触发修复
func (c *Contraster) Check() (bool, error) {
	c.log.Info("对比模块启动")

	content, err := readFileCapped(c.path, c.maxRead)
	if err != nil {
		c.log.Error("读取 hosts 文件失败: %v", err)
		c.metrics.ChecksTotal.WithLabelValues("error").Inc()
		c.journal.Record("contrast", "error", fmt.Sprintf("读取 hosts 文件失败: %v", err))
		return false, err
	}

	rules := EnabledRules(c.rules.Snapshot())
	missing := missingLines(content, rules)

	if len(missing) == 0 {
		c.log.Info("hosts 文件内容完整，无需修复")
		c.metrics.ChecksTotal.WithLabelValues("compliant").Inc()
		c.metrics.Compliant.Set(1)
		return true, nil
	}

	c.log.Info("hosts 文件缺少以下内容: %v", missing)
	c.metrics.ChecksTotal.WithLabelValues("noncompliant").Inc()
	c.metrics.Compliant.Set(0)
	c.journal.Record("contrast", "noncompliant", fmt.Sprintf("缺少 %d 行: %s", len(missing), strings.Join(missing, "; ")))

	if c.repairer != nil {
		c.log.Info("检测到 hosts 文件内容不完整，启动修复模块")
		c.repairer.TriggerRepair()
	}
	return false, nil
}

// Compliant 只读判定 hosts 文件是否完整
// 供状态查询使用，不更新指标也绝不触发修复
func (c *Contraster) Compliant() (bool, error) {
	content, err := readFileCapped(c.path, c.maxRead)
	if err != nil {
		return false, err
	}
	missing := missingLines(content, EnabledRules(c.rules.Snapshot()))
	return len(missing) == 0, nil
}

// missingLines 返回启用规则中未出现在内容里的行
// 注释行按去空白精确匹配，条目行按两段匹配且对空白数量不敏感
func missingLines(content string, rules []Rule) []string {
	lines := SplitLines(content)

	var missing []string
	for _, r := range rules {
		commentFound := false
		for _, line := range lines {
			if matchesComment(line, r.Name) {
				commentFound = true
				break
			}
		}
		if !commentFound {
			missing = append(missing, r.CommentLine())
		}

		for _, e := range r.Entries {
			entryFound := false
			for _, line := range lines {
				if matchesEntry(line, e) {
					entryFound = true
					break
				}
			}
			if !entryFound {
				missing = append(missing, e.IP+" "+e.Domain)
			}
		}
	}
	return missing
}

// ExcessEntries 只读诊断：扫描不被任何启用规则覆盖的映射行
// 系统别名不计入结果，诊断本身绝不触发修复
func (c *Contraster) ExcessEntries() ([]ExcessEntry, error) {
	content, err := readFileCapped(c.path, c.maxRead)
	if err != nil {
		return nil, fmt.Errorf("读取 hosts 文件失败: %v", err)
	}

	rules := EnabledRules(c.rules.Snapshot())

	var excess []ExcessEntry
	for i, line := range SplitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		ip, domain := fields[0], fields[1]

		if _, ok := systemAliases[domain]; ok {
			continue
		}

		covered := false
		for _, r := range rules {
			for _, e := range r.Entries {
				if e.IP == ip && e.Domain == domain {
					covered = true
					break
				}
			}
			if covered {
				break
			}
		}
		if !covered {
			excess = append(excess, ExcessEntry{Line: i + 1, IP: ip, Domain: domain})
		}
	}
	return excess, nil
}
