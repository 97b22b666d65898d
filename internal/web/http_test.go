package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/winspan/hostsguard/internal/hosts"
	"github.com/winspan/hostsguard/pkg/logger"
)

type stubGate bool

func (g stubGate) IsElevated() bool { return bool(g) }

// 测试服务器与它守护的 hosts 文件
type testEnv struct {
	*httptest.Server
	hostsPath string
}

// 搭一套完整的流水线，监控不启动
func newTestServer(t *testing.T, token string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	hostsPath := filepath.Join(dir, "hosts")
	if err := os.WriteFile(hostsPath, []byte("127.0.0.1 localhost\n"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	log, err := logger.NewLogger(&logger.Config{Level: logger.FATAL, Output: "stderr"})
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}

	store := hosts.NewStore(filepath.Join(dir, "rules.yaml"), log)
	if err := store.Load(); err != nil {
		t.Fatalf("加载规则失败: %v", err)
	}

	metrics := hosts.NewMetrics(prometheus.NewRegistry())
	gate := stubGate(true)
	repairer := hosts.NewRepairer(hostsPath, time.Millisecond, 1<<20, store, gate, log, metrics, nil)
	contraster := hosts.NewContraster(hostsPath, 1<<20, store, repairer, log, metrics, nil)
	monitor := hosts.NewMonitor(hostsPath, store.Path(), time.Hour, contraster, log, metrics)
	resolver := hosts.NewResolveChecker("127.0.0.1:1", 100*time.Millisecond)

	r := chi.NewRouter()
	BindRoutes(r, Deps{
		Store:      store,
		Monitor:    monitor,
		Contraster: contraster,
		Repairer:   repairer,
		Resolver:   resolver,
		Gate:       gate,
		Log:        log,
		AdminToken: token,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{Server: srv, hostsPath: hostsPath}
}

func doRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("构造请求失败: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthOpen(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("健康检查状态码 = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("健康检查响应 = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/rules", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("无令牌状态码 = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/rules", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("错误令牌状态码 = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/rules", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("正确令牌状态码 = %d, want 200", resp.StatusCode)
	}
}

// 令牌为空时跳过认证
func TestAuthSkippedWhenNoToken(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/rules", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码 = %d, want 200", resp.StatusCode)
	}
}

func TestRuleCRUD(t *testing.T) {
	srv := newTestServer(t, "secret")

	rule := hosts.Rule{
		Name:    "BlockAds",
		Enabled: true,
		Entries: []hosts.Entry{{IP: "127.0.0.1", Domain: "ads.example.com"}},
	}
	body, _ := json.Marshal(rule)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/rules/add", "secret", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("新增状态码 = %d, want 201", resp.StatusCode)
	}

	// 重名新增被拒绝
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/rules/add", "secret", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("重名新增状态码 = %d, want 400", resp.StatusCode)
	}

	// 查询能看到新规则
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/rules", "secret", nil)
	var listBody struct {
		Rules []hosts.Rule `json:"rules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listBody); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	found := false
	for _, r := range listBody.Rules {
		if r.Name == "BlockAds" {
			found = true
		}
	}
	if !found {
		t.Fatalf("规则列表缺少新规则: %+v", listBody.Rules)
	}

	// 更新
	rule.Entries[0].IP = "0.0.0.0"
	body, _ = json.Marshal(rule)
	resp = doRequest(t, http.MethodPut, srv.URL+"/api/rules/update", "secret", body)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("更新状态码 = %d, want 204", resp.StatusCode)
	}

	// 开关
	toggle, _ := json.Marshal(map[string]any{"name": "BlockAds", "enabled": false})
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/rules/toggle", "secret", toggle)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("开关状态码 = %d, want 204", resp.StatusCode)
	}

	// 删除
	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/rules/delete?name=BlockAds", "secret", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("删除状态码 = %d, want 204", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/rules/delete?name=BlockAds", "secret", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("重复删除状态码 = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteRuleRequiresName(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/rules/delete", "secret", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺少 name 状态码 = %d, want 400", resp.StatusCode)
	}
}

func TestTriggerCheckAccepted(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/check", "secret", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("手动检查状态码 = %d, want 202", resp.StatusCode)
	}
}

func TestGetStatus(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/status", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态查询状态码 = %d", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if status["watching"] != false {
		t.Fatalf("watching = %v, 监控未启动时应为 false", status["watching"])
	}
	if status["elevated"] != true {
		t.Fatalf("elevated = %v", status["elevated"])
	}
	// 默认规则禁用，空 hosts 文件也算完整
	if status["compliant"] != true {
		t.Fatalf("compliant = %v", status["compliant"])
	}
}

// 状态查询是只读的：缺失时报告 compliant=false，但不修改 hosts 文件
func TestGetStatusDoesNotRepair(t *testing.T) {
	srv := newTestServer(t, "secret")

	rule := hosts.Rule{
		Name:    "BlockAds",
		Enabled: true,
		Entries: []hosts.Entry{{IP: "127.0.0.1", Domain: "ads.example.com"}},
	}
	body, _ := json.Marshal(rule)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/rules/add", "secret", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("新增状态码 = %d, want 201", resp.StatusCode)
	}

	before, err := os.ReadFile(srv.hostsPath)
	if err != nil {
		t.Fatalf("读取 hosts 文件失败: %v", err)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/status", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态查询状态码 = %d", resp.StatusCode)
	}
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if status["compliant"] != false {
		t.Fatalf("compliant = %v, 规则缺失时应为 false", status["compliant"])
	}

	// 留出足够时间，确认没有修复协程在背后改写文件
	time.Sleep(200 * time.Millisecond)
	after, err := os.ReadFile(srv.hostsPath)
	if err != nil {
		t.Fatalf("读取 hosts 文件失败: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("状态查询改写了 hosts 文件:\nbefore = %q\nafter  = %q", before, after)
	}
}

func TestReplaceRulesRejectsInvalid(t *testing.T) {
	srv := newTestServer(t, "secret")

	body, _ := json.Marshal(map[string]any{
		"rules": []hosts.Rule{
			{Name: "Bad", Enabled: true, Entries: []hosts.Entry{{IP: "not-an-ip", Domain: "a.example.com"}}},
		},
	})
	resp := doRequest(t, http.MethodPut, srv.URL+"/api/rules", "secret", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("非法规则状态码 = %d, want 400", resp.StatusCode)
	}
}

func TestGetEventsWithoutJournal(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/events", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("事件查询状态码 = %d", resp.StatusCode)
	}

	var body struct {
		Items []any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(body.Items) != 0 {
		t.Fatalf("未启用事件日志时返回了事件: %+v", body.Items)
	}
}
