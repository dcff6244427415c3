package main

import (
	"context"
	"embed"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "embed"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"go.uber.org/fx"

	"github.com/tigerroll/twinstore/internal/app"
	database "github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// embeddedConfig embeds the application's YAML configuration file, loaded at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// applicationMigrationsFS bundles the metadata schema migrations into the binary.
//
//go:embed all:resources/migrations
var applicationMigrationsFS embed.FS

// getDBProviderOptions selects the database providers to register based on the
// DB_ADAPTERS environment variable; all supported providers when unset.
func getDBProviderOptions() []fx.Option {
	adapters := os.Getenv("DB_ADAPTERS")
	if adapters == "" {
		adapters = "postgres,mysql,sqlite"
	}

	options := make([]fx.Option, 0)
	for _, name := range strings.Split(adapters, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if provider, ok := app.DBProviderMap[name]; ok {
			options = append(options, fx.Provide(fx.Annotate(provider, fx.ResultTags(`group:"`+database.DBProviderGroup+`"`))))
			logger.Debugf("DB provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB provider '%s' is configured but not recognized. Skipping.", name)
		}
	}
	return options
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Shutting down...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(ctx, envFilePath, embeddedConfig, applicationMigrationsFS, getDBProviderOptions())
	os.Exit(0)
}
