package journal

// Schema 成交日志表结构。id 为 ULID,天然按生成时间排序,
// (symbol, executed_at) 索引服务按符号的回放与报表查询。
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	level_index INTEGER NOT NULL,
	executed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, executed_at);
`
