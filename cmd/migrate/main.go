// The migrate command applies the SQL files under migrations/ in order.
package main

import (
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	dir := flag.String("dir", "migrations", "directory of SQL migrations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		logger.Error("list migrations failed", "error", err.Error())
		os.Exit(1)
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Error("read migration failed", "file", file, "error", err.Error())
			os.Exit(1)
		}
		if _, err := db.Exec(string(data)); err != nil {
			logger.Error("apply migration failed", "file", file, "error", err.Error())
			os.Exit(1)
		}
		logger.Info("migration applied", "file", file)
	}
}
