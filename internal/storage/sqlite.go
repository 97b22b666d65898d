package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal 流水线事件日志的 SQLite 存储
type Journal struct {
	db            *sql.DB
	maxEvents     int
	retentionDays int
}

// Event 一条流水线事件
type Event struct {
	ID        int64     `json:"id"`
	Stage     string    `json:"stage"`
	Result    string    `json:"result"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJournal 创建事件日志存储
func NewJournal(dbPath string, maxEvents, retentionDays int) (*Journal, error) {
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %v", err)
	}

	// SQLite 只支持单个写连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %v", err)
	}

	return &Journal{db: db, maxEvents: maxEvents, retentionDays: retentionDays}, nil
}

// createTables 创建数据库表
func createTables(db *sql.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS pipeline_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stage TEXT NOT NULL,
		result TEXT NOT NULL,
		message TEXT,
		created_at INTEGER DEFAULT (strftime('%s', 'now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	index := `CREATE INDEX IF NOT EXISTS idx_pipeline_events_created_at
		ON pipeline_events (created_at)`
	_, err := db.Exec(index)
	return err
}

// Record 记录一条流水线事件
func (j *Journal) Record(stage, result, message string) error {
	_, err := j.db.Exec(
		`INSERT INTO pipeline_events (stage, result, message) VALUES (?, ?, ?)`,
		stage, result, message,
	)
	if err != nil {
		return fmt.Errorf("写入事件失败: %v", err)
	}
	return nil
}

// Recent 返回最近的事件，按时间倒序
func (j *Journal) Recent(limit int) ([]Event, error) {
	if limit <= 0 || limit > j.maxEvents {
		limit = j.maxEvents
	}

	rows, err := j.db.Query(
		`SELECT id, stage, result, message, created_at
		 FROM pipeline_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %v", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &e.Stage, &e.Result, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("读取事件失败: %v", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup 清理过期事件和超出数量上限的旧事件
func (j *Journal) Cleanup() error {
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays).Unix()
	if _, err := j.db.Exec(
		`DELETE FROM pipeline_events WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("清理过期事件失败: %v", err)
	}

	if _, err := j.db.Exec(
		`DELETE FROM pipeline_events WHERE id NOT IN (
			SELECT id FROM pipeline_events ORDER BY id DESC LIMIT ?
		)`, j.maxEvents); err != nil {
		return fmt.Errorf("清理多余事件失败: %v", err)
	}
	return nil
}

// StartAutoCleanup 启动周期清理，收到停止信号后退出
func (j *Journal) StartAutoCleanup(stopCh <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				_ = j.Cleanup()
			}
		}
	}()
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}
