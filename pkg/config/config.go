package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	// 基础配置
	App struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Environment string `yaml:"environment"`
		Debug       bool   `yaml:"debug"`
	} `yaml:"app"`

	// hosts 文件配置
	Hosts struct {
		// 目标文件路径，留空使用系统默认路径
		Path string `yaml:"path"`
		// 去抖动与修复延迟（毫秒），监控与修复模块共用
		DelayMs int `yaml:"delay_ms"`
		// 单次读取上限（字节）
		MaxReadSize int `yaml:"max_read_size"`
	} `yaml:"hosts"`

	// 规则文件配置
	Rules struct {
		File string `yaml:"file"`
	} `yaml:"rules"`

	// 日志配置
	Logging struct {
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
		Output  string `yaml:"output"`
		MaxSize int    `yaml:"max_size"`
	} `yaml:"logging"`

	// 管理接口配置
	Web struct {
		Listen     string `yaml:"listen"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"web"`

	// 事件日志配置
	Journal struct {
		Enabled       bool   `yaml:"enabled"`
		SQLiteFile    string `yaml:"sqlite_file"`
		MaxEvents     int    `yaml:"max_events"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`

	// 监控配置
	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"monitoring"`

	// 诊断配置
	Diagnostics struct {
		// 上游 DNS 地址，用于解析对比诊断
		Upstream  string `yaml:"upstream"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"diagnostics"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件，使用默认路径
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 检查配置文件是否存在
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	// 解析 YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	// 设置默认值
	setDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &config, nil
}

// getDefaultConfigPath 获取默认配置文件路径
func getDefaultConfigPath() string {
	// 按优先级查找配置文件
	paths := []string{
		"configs/config.yaml",
		"config.yaml",
		"configs/config.dev.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "configs/config.yaml"
}

// setDefaults 设置默认配置值
func setDefaults(config *Config) {
	// 应用默认值
	if config.App.Name == "" {
		config.App.Name = "HostsGuard"
	}
	if config.App.Version == "" {
		config.App.Version = "1.0.0"
	}
	if config.App.Environment == "" {
		config.App.Environment = "development"
	}

	// hosts 默认值
	if config.Hosts.DelayMs == 0 {
		config.Hosts.DelayMs = 3000
	}
	if config.Hosts.MaxReadSize == 0 {
		config.Hosts.MaxReadSize = 1024 * 1024
	}

	// 规则文件默认值
	if config.Rules.File == "" {
		config.Rules.File = "configs/rules.yaml"
	}

	// 日志默认值
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 100
	}

	// 管理接口默认值
	if config.Web.Listen == "" {
		config.Web.Listen = ":8080"
	}

	// 事件日志默认值
	if config.Journal.SQLiteFile == "" {
		config.Journal.SQLiteFile = "data/hostsguard.db"
	}
	if config.Journal.MaxEvents == 0 {
		config.Journal.MaxEvents = 1000
	}
	if config.Journal.RetentionDays == 0 {
		config.Journal.RetentionDays = 7
	}

	// 监控默认值
	if config.Monitoring.Path == "" {
		config.Monitoring.Path = "/metrics"
	}

	// 诊断默认值
	if config.Diagnostics.Upstream == "" {
		config.Diagnostics.Upstream = "223.5.5.5:53"
	}
	if config.Diagnostics.TimeoutMs == 0 {
		config.Diagnostics.TimeoutMs = 3000
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	// 验证延迟配置
	if config.Hosts.DelayMs < 1 {
		return fmt.Errorf("delay_ms 必须大于等于 1，当前值: %d", config.Hosts.DelayMs)
	}
	if config.Hosts.MaxReadSize < 1 {
		return fmt.Errorf("max_read_size 必须大于 0")
	}

	// 验证规则文件配置
	if config.Rules.File == "" {
		return fmt.Errorf("规则文件路径不能为空")
	}

	// 验证日志配置
	if !isValidLogLevel(config.Logging.Level) {
		return fmt.Errorf("无效的日志级别: %s", config.Logging.Level)
	}

	// 验证管理接口配置
	if config.Web.Listen == "" {
		return fmt.Errorf("管理接口监听地址不能为空")
	}

	return nil
}

// isValidLogLevel 验证日志级别
func isValidLogLevel(level string) bool {
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	level = strings.ToLower(level)
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}

// SaveConfig 保存配置到文件
func SaveConfig(config *Config, configPath string) error {
	// 如果未指定路径，使用默认路径
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 确保目录存在
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %v", err)
	}

	// 序列化配置
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	// 写入文件
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug 检查是否启用调试模式
func (c *Config) IsDebug() bool {
	return c.App.Debug
}
