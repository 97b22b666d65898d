package hosts

import (
	"fmt"
	"strings"

	"github.com/winspan/hostsguard/pkg/utils"
)

// Entry 一条 IP 到域名的映射
type Entry struct {
	IP     string `yaml:"ip" json:"ip"`
	Domain string `yaml:"domain" json:"domain"`
}

// Rule 一组可独立开关的 hosts 映射规则
// 规则名在规则集中唯一，条目保持插入顺序
type Rule struct {
	Name    string  `yaml:"name" json:"name"`
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Entries []Entry `yaml:"entries" json:"entries"`
}

var netUtils = &utils.NetworkUtils{}

// Validate 验证规则合法性
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("规则名不能为空")
	}
	if len(r.Entries) == 0 {
		return fmt.Errorf("规则 %s 没有任何条目", r.Name)
	}
	for i, e := range r.Entries {
		if strings.TrimSpace(e.IP) == "" || strings.TrimSpace(e.Domain) == "" {
			return fmt.Errorf("规则 %s 第 %d 条条目的 IP 和域名不能为空", r.Name, i+1)
		}
		if !netUtils.IsValidIP(e.IP) {
			return fmt.Errorf("规则 %s 包含无效的 IP 地址: %s", r.Name, e.IP)
		}
		if !netUtils.IsValidDomain(e.Domain) {
			return fmt.Errorf("规则 %s 包含无效的域名: %s", r.Name, e.Domain)
		}
	}
	return nil
}

// CommentLine 返回规则的注释行
func (r *Rule) CommentLine() string {
	return "# " + r.Name
}

// Block 返回规则写入 hosts 文件的文本块（不含前后空行）
func (r *Rule) Block() []string {
	lines := make([]string, 0, len(r.Entries)+1)
	lines = append(lines, r.CommentLine())
	for _, e := range r.Entries {
		lines = append(lines, e.IP+" "+e.Domain)
	}
	return lines
}

// Clone 返回规则的深拷贝
func (r *Rule) Clone() Rule {
	c := Rule{Name: r.Name, Enabled: r.Enabled}
	if r.Entries != nil {
		c.Entries = make([]Entry, len(r.Entries))
		copy(c.Entries, r.Entries)
	}
	return c
}

// CloneRules 返回规则集的深拷贝快照
func CloneRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		out = append(out, rules[i].Clone())
	}
	return out
}

// EnabledRules 过滤出启用的规则
func EnabledRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		if rules[i].Enabled {
			out = append(out, rules[i])
		}
	}
	return out
}

// RuleSource 规则集快照来源
// 流水线每次调用只持有快照，不持有可变引用
type RuleSource interface {
	Snapshot() []Rule
}

// matchesComment 判断一行是否为指定规则的注释行（去除首尾空白后精确匹配）
func matchesComment(line, name string) bool {
	return strings.TrimSpace(line) == "# "+name
}

// matchesEntry 判断一行是否匹配指定条目
// 对空白数量不敏感，只匹配「IP 域名」两段
func matchesEntry(line string, e Entry) bool {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return false
	}
	return fields[0] == e.IP && fields[1] == e.Domain
}

// matchesRule 判断一行是否属于指定规则（注释行或任一条目）
func matchesRule(line string, r Rule) bool {
	if matchesComment(line, r.Name) {
		return true
	}
	for _, e := range r.Entries {
		if matchesEntry(line, e) {
			return true
		}
	}
	return false
}
