// Command migrate creates or updates the schema of the configured store.
// With --from-sqlite it also copies every row of a SQLite database into it,
// which is how a development database is moved to PostgreSQL.
package main

import (
	"log/slog"
	"os"

	"engagement-engine/internal/config"
	"engagement-engine/internal/database"
	"engagement-engine/internal/models"

	flag "github.com/spf13/pflag"
	"gorm.io/gorm"
)

const batchSize = 500

func main() {
	from := flag.String("from-sqlite", "", "path of a SQLite database to copy into the configured store")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.LoadConfig()
	dest, err := database.Open(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	logger.Info("schema is up to date", "driver", cfg.DBDriver)
	if *from == "" {
		return
	}

	source, err := database.OpenSQLite(*from)
	if err != nil {
		logger.Error("failed to open source", "path", *from, "error", err)
		os.Exit(1)
	}

	failed := false
	for _, model := range models.All() {
		n, err := copyTable(source, dest, model)
		table := tableName(source, model)
		if err != nil {
			logger.Error("copy failed", "table", table, "error", err)
			failed = true
			continue
		}
		logger.Info("copied", "table", table, "rows", n)
	}
	if failed {
		os.Exit(1)
	}
}

func tableName(db *gorm.DB, model interface{}) string {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "?"
	}
	return stmt.Schema.Table
}

// copyTable reads every row of model's table and writes them to dest in
// batches inside one transaction.
func copyTable(source, dest *gorm.DB, model interface{}) (int, error) {
	var rows []map[string]interface{}
	if err := source.Model(model).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := dest.Transaction(func(tx *gorm.DB) error {
		return tx.Model(model).CreateInBatches(&rows, batchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
