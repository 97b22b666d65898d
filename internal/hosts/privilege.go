package hosts

// SystemGate 基于操作系统的权限门控实现
type SystemGate struct{}

// NewSystemGate 创建系统权限门控
func NewSystemGate() *SystemGate {
	return &SystemGate{}
}
