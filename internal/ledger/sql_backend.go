package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"FlowPay-Chain/deploy/migrations"
)

// SQLConfig 描述 SQL 状态存储的连接参数。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type dialect struct {
	name            string
	driver          string
	selectState     string
	upsertState     string
	deleteState     string
	insertCommit    string
	insertMigration string
}

var dialects = map[string]dialect{
	"mysql": {
		name:            "mysql",
		driver:          "mysql",
		selectState:     `SELECT state_value FROM ledger_state WHERE state_key = ?`,
		upsertState:     `INSERT INTO ledger_state (state_key, state_value, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE state_value = VALUES(state_value), updated_at = VALUES(updated_at)`,
		deleteState:     `DELETE FROM ledger_state WHERE state_key = ?`,
		insertCommit:    `INSERT INTO ledger_commits (write_count, committed_at) VALUES (?, ?)`,
		insertMigration: `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
	},
	"postgres": {
		name:            "postgres",
		driver:          "postgres",
		selectState:     `SELECT state_value FROM ledger_state WHERE state_key = $1`,
		upsertState:     `INSERT INTO ledger_state (state_key, state_value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (state_key) DO UPDATE SET state_value = EXCLUDED.state_value, updated_at = EXCLUDED.updated_at`,
		deleteState:     `DELETE FROM ledger_state WHERE state_key = $1`,
		insertCommit:    `INSERT INTO ledger_commits (write_count, committed_at) VALUES ($1, $2)`,
		insertMigration: `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
	},
	"sqlite": {
		name:            "sqlite",
		driver:          "sqlite",
		selectState:     `SELECT state_value FROM ledger_state WHERE state_key = ?`,
		upsertState:     `INSERT INTO ledger_state (state_key, state_value, updated_at) VALUES (?, ?, ?) ON CONFLICT(state_key) DO UPDATE SET state_value = excluded.state_value, updated_at = excluded.updated_at`,
		deleteState:     `DELETE FROM ledger_state WHERE state_key = ?`,
		insertCommit:    `INSERT INTO ledger_commits (write_count, committed_at) VALUES (?, ?)`,
		insertMigration: `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
	},
}

func lookupDialect(name string) (dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "postgresql" {
		key = "postgres"
	}
	d, ok := dialects[key]
	if !ok {
		return dialect{}, fmt.Errorf("不支持的 SQL 驱动: %s", name)
	}
	return d, nil
}

// SQLBackend 基于 database/sql 持久化状态，每次提交使用一个数据库事务。
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLBackend 建立连接、校验可用性并执行迁移。
func OpenSQLBackend(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", d.name)
	}
	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", d.name, err)
	}
	configurePool(db, d, cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", d.name, err)
	}
	backend, err := NewSQLBackend(db, d.name)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := backend.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func configurePool(db *sql.DB, d dialect, cfg SQLConfig) {
	if d.name == "sqlite" {
		// SQLite 只允许单写连接。
		db.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// NewSQLBackend wraps an open database without running migrations.
func NewSQLBackend(db *sql.DB, driver string) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("db 不能为空")
	}
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: d, now: time.Now}, nil
}

// Get implements Backend.
func (b *SQLBackend) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, b.dialect.selectState, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("查询状态 %s 失败: %w", key, err)
	}
	return value, true, nil
}

// Commit implements Backend.
func (b *SQLBackend) Commit(ctx context.Context, writes []Write) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	now := b.now().Unix()
	for _, w := range writes {
		if w.Delete {
			_, err = tx.ExecContext(ctx, b.dialect.deleteState, string(w.Key))
		} else {
			_, err = tx.ExecContext(ctx, b.dialect.upsertState, string(w.Key), w.Value, now)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("写入状态 %s 失败: %w", w.Key, err)
		}
	}
	if _, err := tx.ExecContext(ctx, b.dialect.insertCommit, len(writes), now); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录提交失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// Migrate applies the embedded migrations of the backend dialect that have
// not been recorded in schema_migrations yet.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := b.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(b.dialect.name)
	if err != nil {
		return err
	}
	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := b.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLBackend) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func (b *SQLBackend) applyMigration(ctx context.Context, migration migrationFile) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", migration.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, b.dialect.insertMigration, migration.version, b.now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

func loadMigrationFiles(dialectName string) ([]migrationFile, error) {
	dir, err := migrations.ForDialect(dialectName)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		content, err := fs.ReadFile(dir, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].version == files[j].version {
			return files[i].name < files[j].name
		}
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
