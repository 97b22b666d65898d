//go:build !windows

package hosts

import (
	"os"
	"path/filepath"
)

// DefaultHostsPath 返回系统 hosts 文件路径
func DefaultHostsPath() string {
	return filepath.Join("/etc", "hosts")
}

// openShared 以读写方式打开目标文件
// POSIX 下普通打开即为共享访问，不会排斥其他进程的读写
func openShared(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0644)
}
