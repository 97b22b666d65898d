//go:build windows

package hosts

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// DefaultHostsPath 返回系统 hosts 文件路径
func DefaultHostsPath() string {
	systemRoot := os.Getenv("SystemRoot")
	if systemRoot == "" {
		systemRoot = `C:\Windows`
	}
	return filepath.Join(systemRoot, "System32", "drivers", "etc", "hosts")
}

// openShared 以共享读写方式打开目标文件
// 显式声明 FILE_SHARE_READ|FILE_SHARE_WRITE，不排斥其他进程的并发访问
func openShared(path string) (*os.File, error) {
	pathp, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateFile(
		pathp,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, err
	}

	return os.NewFile(uintptr(handle), path), nil
}
