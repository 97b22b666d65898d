package hosts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/winspan/hostsguard/pkg/logger"
)

// ruleFile 规则文件的磁盘结构
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Store 规则存储
// 负责规则文件的加载、持久化和增删改查；
// 所有读改写操作都在同一把粗粒度锁内完成，
// 对外只提供深拷贝快照，流水线侧拿不到可变引用
type Store struct {
	path string
	log  *logger.Logger

	mu    sync.Mutex
	rules []Rule
}

// NewStore 创建规则存储
func NewStore(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log}
}

// Path 返回规则文件路径
func (s *Store) Path() string {
	return s.path
}

// defaultRules 首次运行时生成的默认规则
func defaultRules() []Rule {
	return []Rule{
		{
			Name:    "HostsGuard 默认数据",
			Enabled: false,
			Entries: []Entry{
				{IP: "127.0.0.1", Domain: "localhost"},
			},
		},
	}
}

// Load 加载规则文件，不存在时创建默认规则文件
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.log.Info("未找到规则文件，创建默认规则: %s", s.path)
		s.rules = defaultRules()
		return s.saveLocked()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("读取规则文件失败: %v", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析规则文件失败: %v", err)
	}

	// 校验规则名唯一
	seen := make(map[string]struct{}, len(file.Rules))
	for i := range file.Rules {
		if err := file.Rules[i].Validate(); err != nil {
			return fmt.Errorf("规则文件校验失败: %v", err)
		}
		if _, ok := seen[file.Rules[i].Name]; ok {
			return fmt.Errorf("规则文件校验失败: 规则名重复: %s", file.Rules[i].Name)
		}
		seen[file.Rules[i].Name] = struct{}{}
	}

	s.rules = file.Rules
	s.log.Info("正在从 %s 加载配置，共 %d 条规则", s.path, len(s.rules))
	return nil
}

// saveLocked 持久化规则文件，调用方必须持有锁
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建规则目录失败: %v", err)
	}

	data, err := yaml.Marshal(&ruleFile{Rules: s.rules})
	if err != nil {
		return fmt.Errorf("序列化规则失败: %v", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("写入规则文件失败: %v", err)
	}

	s.log.Info("规则已保存到: %s", s.path)
	return nil
}

// Snapshot 返回全部规则的深拷贝快照
func (s *Store) Snapshot() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneRules(s.rules)
}

// Get 按名称查找规则，返回深拷贝
func (s *Store) Get(name string) (Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == name {
			return s.rules[i].Clone(), true
		}
	}
	return Rule{}, false
}

// Replace 整体替换规则集并持久化
func (s *Store) Replace(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if _, ok := seen[rules[i].Name]; ok {
			return fmt.Errorf("规则名重复: %s", rules[i].Name)
		}
		seen[rules[i].Name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = CloneRules(rules)
	return s.saveLocked()
}

// Add 新增规则并持久化
func (s *Store) Add(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == r.Name {
			return fmt.Errorf("规则已存在: %s", r.Name)
		}
	}
	s.rules = append(s.rules, r.Clone())
	return s.saveLocked()
}

// Update 更新同名规则并持久化
func (s *Store) Update(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == r.Name {
			s.rules[i] = r.Clone()
			return s.saveLocked()
		}
	}
	return fmt.Errorf("规则不存在: %s", r.Name)
}

// Delete 删除规则并持久化
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == name {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("规则不存在: %s", name)
}

// SetEnabled 开关规则并持久化
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == name {
			s.rules[i].Enabled = enabled
			return s.saveLocked()
		}
	}
	return fmt.Errorf("规则不存在: %s", name)
}
