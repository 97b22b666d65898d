package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/winspan/hostsguard/internal/hosts"
	"github.com/winspan/hostsguard/internal/storage"
	"github.com/winspan/hostsguard/pkg/logger"
)

// Api 管理接口
// 对外只暴露状态查询、手动触发和规则编辑，流水线状态本身只通过
// 日志和布尔结果向外传递
type Api struct {
	store      *hosts.Store
	monitor    *hosts.Monitor
	contraster *hosts.Contraster
	repairer   *hosts.Repairer
	resolver   *hosts.ResolveChecker
	journal    *storage.Journal
	gate       hosts.Gate
	log        *logger.Logger
	token      string
}

// Deps 管理接口依赖
type Deps struct {
	Store      *hosts.Store
	Monitor    *hosts.Monitor
	Contraster *hosts.Contraster
	Repairer   *hosts.Repairer
	Resolver   *hosts.ResolveChecker
	Journal    *storage.Journal
	Gate       hosts.Gate
	Log        *logger.Logger
	AdminToken string
}

// BindRoutes 注册管理接口路由
func BindRoutes(r *chi.Mux, deps Deps) {
	api := &Api{
		store:      deps.Store,
		monitor:    deps.Monitor,
		contraster: deps.Contraster,
		repairer:   deps.Repairer,
		resolver:   deps.Resolver,
		journal:    deps.Journal,
		gate:       deps.Gate,
		log:        deps.Log,
		token:      deps.AdminToken,
	}

	// 中间件
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(10*time.Second))

	// API路由
	r.Get("/api/health", api.health)
	r.Group(func(pr chi.Router) {
		pr.Use(api.auth)
		pr.Get("/api/status", api.getStatus)
		pr.Post("/api/check", api.triggerCheck)

		// 规则管理相关API
		pr.Get("/api/rules", api.getRules)
		pr.Put("/api/rules", api.putRules)
		pr.Post("/api/rules/add", api.addRule)
		pr.Put("/api/rules/update", api.updateRule)
		pr.Delete("/api/rules/delete", api.deleteRule)
		pr.Post("/api/rules/toggle", api.toggleRule)

		// 诊断相关API
		pr.Get("/api/diagnostics/excess", api.getExcessEntries)
		pr.Get("/api/diagnostics/resolve", api.getResolveReport)

		// 事件日志API
		pr.Get("/api/events", api.getEvents)
	})
}

func (a *Api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 如果token为空，跳过认证
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != a.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Api) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// 获取系统状态
// 状态查询是只读的，完整性判定不触发修复
func (a *Api) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	compliant, err := a.contraster.Compliant()
	status := map[string]any{
		"watching":   a.monitor.IsRunning(),
		"repairing":  a.repairer.Running(),
		"elevated":   a.gate.IsElevated(),
		"compliant":  compliant,
		"rule_count": len(a.store.Snapshot()),
	}
	if err != nil {
		status["check_error"] = err.Error()
	}
	_ = json.NewEncoder(w).Encode(status)
}

// 手动触发一次检查，绕过去抖动
func (a *Api) triggerCheck(w http.ResponseWriter, r *http.Request) {
	a.log.Info("收到手动检查请求")
	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusAccepted)
}

func (a *Api) getRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rules": a.store.Snapshot()})
}

func (a *Api) putRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []hosts.Rule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.Replace(body.Rules); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 规则变更后立即触发一次检查
	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Api) addRule(w http.ResponseWriter, r *http.Request) {
	var rule hosts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.Add(rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusCreated)
}

func (a *Api) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule hosts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.Update(rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Api) deleteRule(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := a.store.Delete(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Api) toggleRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.SetEnabled(body.Name, body.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.monitor.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

// 多余条目诊断
func (a *Api) getExcessEntries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	excess, err := a.contraster.ExcessEntries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": excess})
}

// 上游解析对比诊断
func (a *Api) getResolveReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	results := a.resolver.CheckRules(a.store.Snapshot())
	_ = json.NewEncoder(w).Encode(map[string]any{"items": results})
}

// 查询最近的流水线事件
func (a *Api) getEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")

	if a.journal == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []storage.Event{}})
		return
	}

	// 获取limit参数
	limit := 200
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	events, err := a.journal.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": events})
}
