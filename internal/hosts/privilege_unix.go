//go:build !windows

package hosts

import "os"

// IsElevated 检查当前进程是否以 root 权限运行
func (g *SystemGate) IsElevated() bool {
	return os.Geteuid() == 0
}
