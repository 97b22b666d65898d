//go:build windows

package hosts

import "golang.org/x/sys/windows"

// IsElevated 检查当前进程令牌是否已提权
func (g *SystemGate) IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
