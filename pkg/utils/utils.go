package utils

import (
	"net"
	"regexp"
)

// NetworkUtils 网络工具函数
type NetworkUtils struct{}

// IsValidIP 检查是否为有效的 IP 地址
func (n *NetworkUtils) IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsValidDomain 检查是否为有效的域名
func (n *NetworkUtils) IsValidDomain(domain string) bool {
	// 简单的域名验证
	pattern := `^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`
	matched, _ := regexp.MatchString(pattern, domain)
	return matched
}
