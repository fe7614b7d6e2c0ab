package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files 暴露所有 SQL 迁移文件，按数据库方言分目录存放。
//
//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var Files embed.FS

// ForDialect 返回指定方言的迁移目录。
func ForDialect(dialect string) (fs.FS, error) {
	sub, err := fs.Sub(Files, dialect)
	if err != nil {
		return nil, fmt.Errorf("未知的迁移方言 %s: %w", dialect, err)
	}
	return sub, nil
}
