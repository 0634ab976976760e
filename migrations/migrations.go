// Package migrations embeds the database schemas
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Postgres returns the Postgres statements in apply order
func Postgres() ([]string, error) { return statements("postgres") }

// ClickHouse returns the ClickHouse statements in apply order
func ClickHouse() ([]string, error) { return statements("clickhouse") }

// statements splits every file of dir on ';'. ClickHouse runs one statement
// per Exec, so files are split for both backends.
func statements(dir string) ([]string, error) {
	names, err := fs.Glob(files, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(stripComments(string(body)), ";") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				out = append(out, stmt)
			}
		}
	}
	return out, nil
}

func stripComments(sql string) string {
	lines := strings.Split(sql, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
