package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal 基于 SQLite 的成交日志。WAL 模式下写入不阻塞读取,
// busy_timeout 吸收报表工具并发打开时的短暂锁竞争。
type SQLiteJournal struct {
	db *sql.DB
}

var _ Journal = (*SQLiteJournal)(nil)

// NewSQLite 打开(必要时创建)路径上的日志库并建表。
func NewSQLite(path string) (*SQLiteJournal, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Append 写入一条成交记录。ID 为空时自动分配 ULID。
func (j *SQLiteJournal) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, quantity, price, level_index, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Side, rec.Quantity, rec.Price, rec.LevelIndex, rec.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append trade %s: %w", rec.ID, err)
	}
	return nil
}

// List 按过滤条件查询,结果按执行时间升序。
func (j *SQLiteJournal) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT id, symbol, side, quantity, price, level_index, executed_at FROM trades`
	var (
		conds []string
		args  []any
	)
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "executed_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "executed_at < ?")
		args = append(args, f.Until.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY executed_at ASC, id ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.Quantity, &rec.Price, &rec.LevelIndex, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Close 关闭底层数据库。
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
