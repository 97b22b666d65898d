package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String 返回日志级别的字符串表示
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析日志级别字符串
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Logger 日志记录器
type Logger struct {
	level   Level
	output  io.Writer
	format  string
	maxSize int
	file    *os.File
	prefix  string
}

// Config 日志配置
type Config struct {
	Level   Level  `yaml:"level"`
	Format  string `yaml:"format"`
	Output  string `yaml:"output"`
	MaxSize int    `yaml:"max_size"`
	Prefix  string `yaml:"prefix"`
}

// NewLogger 创建新的日志记录器
func NewLogger(config *Config) (*Logger, error) {
	logger := &Logger{
		level:   config.Level,
		format:  config.Format,
		maxSize: config.MaxSize,
		prefix:  config.Prefix,
	}

	if logger.prefix == "" {
		logger.prefix = "hostsguard"
	}

	// 设置输出
	if err := logger.setOutput(config.Output); err != nil {
		return nil, err
	}

	return logger, nil
}

// setOutput 设置日志输出
func (l *Logger) setOutput(output string) error {
	switch output {
	case "stdout", "":
		l.output = os.Stdout
	case "stderr":
		l.output = os.Stderr
	default:
		// 作为文件路径处理
		return l.setFileOutput(output)
	}
	return nil
}

// setFileOutput 设置文件输出
func (l *Logger) setFileOutput(path string) error {
	if path == "file" {
		path = "logs/hostsguard.log"
	}

	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %v", err)
	}

	// 打开文件
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %v", err)
	}

	l.file = file
	l.output = file

	// 启动日志轮转
	go l.rotateLog()

	return nil
}

// rotateLog 日志轮转
func (l *Logger) rotateLog() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		if l.file == nil {
			return
		}
		// 检查文件大小
		if info, err := l.file.Stat(); err == nil {
			if l.maxSize > 0 && info.Size() > int64(l.maxSize*1024*1024) {
				l.rotate()
			}
		}
	}
}

// rotate 执行日志轮转
func (l *Logger) rotate() {
	if l.file == nil {
		return
	}

	// 关闭当前文件
	l.file.Close()

	// 重命名旧文件
	oldPath := l.file.Name()
	backupPath := oldPath + "." + time.Now().Format("2006-01-02-15-04-05")
	os.Rename(oldPath, backupPath)

	// 打开新文件
	file, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		l.file = file
		l.output = file
	}
}

// formatMessage 格式化日志消息
func (l *Logger) formatMessage(level Level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	switch l.format {
	case "json":
		return fmt.Sprintf(`{"timestamp":"%s","level":"%s","prefix":"%s","message":"%s"}`,
			timestamp, level.String(), l.prefix, message)
	default:
		return fmt.Sprintf("[%s] %s [%s] %s",
			timestamp, level.String(), l.prefix, message)
	}
}

// log 记录日志
func (l *Logger) log(level Level, message string) {
	if level < l.level {
		return
	}

	formattedMessage := l.formatMessage(level, message)

	if l.output != nil {
		fmt.Fprintln(l.output, formattedMessage)
	}
}

// Debug 记录调试日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

// Info 记录信息日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn 记录警告日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error 记录错误日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

// Fatal 记录致命错误日志并退出
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// GetLevel 获取日志级别
func (l *Logger) GetLevel() Level {
	return l.level
}

// SetPrefix 设置日志前缀
func (l *Logger) SetPrefix(prefix string) {
	l.prefix = prefix
}

// Close 关闭日志记录器
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
