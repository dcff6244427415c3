package app

import (
	database "github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	"github.com/tigerroll/twinstore/pkg/twin/adapter/database/gorm/mysql"
	"github.com/tigerroll/twinstore/pkg/twin/adapter/database/gorm/postgres"
	"github.com/tigerroll/twinstore/pkg/twin/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
)

// DBProviderMap is used by main.go to dynamically select database providers.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}
