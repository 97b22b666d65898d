package hosts

import (
	"time"

	"github.com/miekg/dns"
)

// ResolveResult 单条条目的解析对比结果
type ResolveResult struct {
	Rule        string   `json:"rule"`
	IP          string   `json:"ip"`
	Domain      string   `json:"domain"`
	ResolvedIPs []string `json:"resolved_ips"`
	Match       bool     `json:"match"`
	Error       string   `json:"error,omitempty"`
}

// ResolveChecker 解析对比诊断
// 把启用规则的条目拿去上游 DNS 解析，报告本地覆盖与公共解析的差异
// 只读诊断，绝不触发修复
type ResolveChecker struct {
	upstream string
	client   *dns.Client
}

// NewResolveChecker 创建解析对比诊断
func NewResolveChecker(upstream string, timeout time.Duration) *ResolveChecker {
	return &ResolveChecker{
		upstream: upstream,
		client:   &dns.Client{Timeout: timeout},
	}
}

// CheckRules 对启用规则的每条条目做一次上游 A 记录查询
func (rc *ResolveChecker) CheckRules(rules []Rule) []ResolveResult {
	var results []ResolveResult

	for _, r := range EnabledRules(rules) {
		for _, e := range r.Entries {
			result := ResolveResult{Rule: r.Name, IP: e.IP, Domain: e.Domain}

			msg := new(dns.Msg)
			msg.SetQuestion(dns.Fqdn(e.Domain), dns.TypeA)

			resp, _, err := rc.client.Exchange(msg, rc.upstream)
			if err != nil {
				result.Error = err.Error()
				results = append(results, result)
				continue
			}

			for _, rr := range resp.Answer {
				if a, ok := rr.(*dns.A); ok {
					ip := a.A.String()
					result.ResolvedIPs = append(result.ResolvedIPs, ip)
					if ip == e.IP {
						result.Match = true
					}
				}
			}
			results = append(results, result)
		}
	}
	return results
}
