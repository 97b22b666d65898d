package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: HostsGuard\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Hosts.DelayMs != 3000 {
		t.Errorf("DelayMs = %d, want 3000", cfg.Hosts.DelayMs)
	}
	if cfg.Hosts.MaxReadSize != 1024*1024 {
		t.Errorf("MaxReadSize = %d, want %d", cfg.Hosts.MaxReadSize, 1024*1024)
	}
	if cfg.Rules.File != "configs/rules.yaml" {
		t.Errorf("Rules.File = %s", cfg.Rules.File)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Web.Listen != ":8080" {
		t.Errorf("Web.Listen = %s, want :8080", cfg.Web.Listen)
	}
	if cfg.Journal.MaxEvents != 1000 || cfg.Journal.RetentionDays != 7 {
		t.Errorf("Journal 默认值 = %+v", cfg.Journal)
	}
	if cfg.Monitoring.Path != "/metrics" {
		t.Errorf("Monitoring.Path = %s", cfg.Monitoring.Path)
	}
	if cfg.Diagnostics.Upstream != "223.5.5.5:53" {
		t.Errorf("Diagnostics.Upstream = %s", cfg.Diagnostics.Upstream)
	}
}

func TestLoadConfigExplicitValues(t *testing.T) {
	content := `hosts:
  path: /tmp/hosts
  delay_ms: 500
logging:
  level: debug
web:
  listen: ":9090"
  admin_token: secret
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Hosts.Path != "/tmp/hosts" || cfg.Hosts.DelayMs != 500 {
		t.Errorf("Hosts = %+v", cfg.Hosts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s", cfg.Logging.Level)
	}
	if cfg.Web.Listen != ":9090" || cfg.Web.AdminToken != "secret" {
		t.Errorf("Web = %+v", cfg.Web)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("配置文件不存在时应返回错误")
	}
}

func TestLoadConfigInvalidDelay(t *testing.T) {
	path := writeConfig(t, "hosts:\n  delay_ms: -5\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("负数延迟应返回错误")
	}
}

func TestLoadConfigInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: verbose\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("无效日志级别应返回错误")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "hosts: [broken\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("非法 YAML 应返回错误")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := writeConfig(t, "web:\n  admin_token: tok\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	out := filepath.Join(t.TempDir(), "out", "config.yaml")
	if err := SaveConfig(cfg, out); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	reloaded, err := LoadConfig(out)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if reloaded.Web.AdminToken != "tok" {
		t.Errorf("AdminToken = %s, want tok", reloaded.Web.AdminToken)
	}
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.App.Environment = "development"
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Error("development 环境判断错误")
	}

	cfg.App.Environment = "production"
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Error("production 环境判断错误")
	}
}
