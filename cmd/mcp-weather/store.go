package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/txn2/mcp-weather/internal/server"
	"github.com/txn2/mcp-weather/pkg/database"
	"github.com/txn2/mcp-weather/pkg/platform"
	"github.com/txn2/mcp-weather/pkg/tenant"
)

// openDatabase loads config and opens its SQL database. Administrative
// commands need persistent storage, so the memory driver is rejected.
func openDatabase(ctx context.Context) (*platform.Config, *sql.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Driver.SQL() {
		return nil, nil, fmt.Errorf("this command needs a SQL database; set database.driver or DATABASE_DRIVER (got %q)", cfg.Database.Driver)
	}
	db, err := database.Open(ctx, cfg.Database.Config)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func openDirectory(ctx context.Context) (*platform.Config, tenant.Directory, func() error, error) {
	cfg, db, err := openDatabase(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, tenant.NewSQLDirectory(db, cfg.Database.Driver), db.Close, nil
}

func loadConfig() (*platform.Config, error) {
	return server.LoadConfig(configPath, os.LookupEnv)
}
