// Package app assembles the twinstore service: configuration, database and
// storage adapters, repositories, graph store, engines and the background
// maintenance loops, all wired through uber-fx.
package app

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"time"

	"go.uber.org/fx"

	database "github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	gormadapter "github.com/tigerroll/twinstore/pkg/twin/adapter/database/gorm"
	storage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage"
	gcsstorage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage/gcs"
	localstorage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage/local"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	executor "github.com/tigerroll/twinstore/pkg/twin/engine/executor"
	job "github.com/tigerroll/twinstore/pkg/twin/engine/job"
	lock "github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	age "github.com/tigerroll/twinstore/pkg/twin/graph/age"
	migration "github.com/tigerroll/twinstore/pkg/twin/infrastructure/migration"
	infraMetrics "github.com/tigerroll/twinstore/pkg/twin/infrastructure/metrics"
	sqlrepo "github.com/tigerroll/twinstore/pkg/twin/infrastructure/repository/sql"
	query "github.com/tigerroll/twinstore/pkg/twin/query"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// MigrationsPath is where the embedded migration files live inside the
// binary's resource tree.
const MigrationsPath = "resources/migrations"

// MigrationsTable tracks applied schema versions on the metadata database.
const MigrationsTable = "twin_schema_migrations"

// RunApplication builds and runs the Fx application until the context is
// cancelled or a shutdown signal arrives.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, migrationsFS embed.FS, dbProviderOptions []fx.Option) {
	app := fx.New(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		fx.Provide(func() fs.FS { return migrationsFS }),

		fx.Options(dbProviderOptions...),
		config.Module,
		infraMetrics.Module,

		gormadapter.Module,
		localstorage.Module,
		gcsstorage.Module,
		storage.Module,

		sqlrepo.Module,
		age.Module,

		lock.Module,
		job.Module,
		executor.Module,
		query.Module,

		fx.Invoke(runMigrations),
		fx.Invoke(startMaintenance),
		fx.Invoke(startJobExecution),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}

// runMigrations applies the embedded schema migrations to the metadata
// database before anything else touches it.
func runMigrations(lc fx.Lifecycle, resolver database.DBConnectionResolver, cfg *config.Config, migrationsFS fs.FS) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := resolver.ResolveDBConnection(ctx, cfg.Twinstore.Infrastructure.JobRepositoryDBRef)
			if err != nil {
				return err
			}
			migrator := migration.NewMigrator(conn)
			defer migrator.Close()
			return migrator.Up(ctx, migrationsFS, MigrationsPath, MigrationsTable)
		},
	})
}

// MaintenanceParams collects the collaborators of the background sweeps.
type MaintenanceParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Jobs      *job.Service
	Locks     *lock.Manager
	Cfg       *config.JobsConfig
	AppCtx    context.Context `name:"appCtx"`
}

// startMaintenance runs the periodic sweeps: expired lock cleanup at the
// lease cadence, and the job retention purge hourly.
func startMaintenance(p MaintenanceParams) {
	done := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				lockTicker := time.NewTicker(time.Duration(p.Cfg.LeaseSeconds) * time.Second)
				purgeTicker := time.NewTicker(time.Hour)
				defer lockTicker.Stop()
				defer purgeTicker.Stop()

				for {
					select {
					case <-done:
						return
					case <-p.AppCtx.Done():
						return
					case <-lockTicker.C:
						if _, err := p.Locks.CleanupExpired(p.AppCtx); err != nil {
							logger.Warnf("Maintenance: expired lock sweep failed: %v", err)
						}
					case <-purgeTicker.C:
						if _, err := p.Jobs.PurgeExpired(p.AppCtx); err != nil {
							logger.Warnf("Maintenance: job purge sweep failed: %v", err)
						}
					}
				}
			}()
			logger.Infof("Maintenance loops started (lock sweep every %ds, purge hourly).", p.Cfg.LeaseSeconds)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}

// JobExecutionParams collects the collaborators of the one-shot job runner.
type JobExecutionParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Jobs       *job.Service
	Import     *executor.ImportExecutor
	Delete     *executor.DeleteExecutor
	Export     *executor.ExportExecutor
	AppCtx     context.Context `name:"appCtx"`
}

// startJobExecution optionally runs one bulk job at startup when the
// TWIN_JOB_TYPE environment variable is set, then shuts the process down.
// Without it the process stays resident serving the maintenance loops.
func startJobExecution(p JobExecutionParams) {
	jobType := model.JobType(os.Getenv("TWIN_JOB_TYPE"))
	if jobType == "" {
		return
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := p.Shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shut down application: %v", err)
					}
				}()

				jobID := os.Getenv("TWIN_JOB_ID")
				if jobID == "" {
					jobID = model.NewID()
				}
				requestData := model.RequestData{}
				if v := os.Getenv("TWIN_STORAGE_REF"); v != "" {
					requestData[executor.KeyStorageRef] = v
				}
				if v := os.Getenv("TWIN_INPUT_PATH"); v != "" {
					requestData[executor.KeyInputPath] = v
				}
				if v := os.Getenv("TWIN_OUTPUT_PATH"); v != "" {
					requestData[executor.KeyOutputPath] = v
				}

				if _, err := p.Jobs.Create(p.AppCtx, jobID, jobType, requestData); err != nil {
					logger.Errorf("Failed to create job '%s': %v", jobID, err)
					return
				}

				var err error
				switch jobType {
				case model.JobTypeImport:
					err = p.Import.Run(p.AppCtx, jobID)
				case model.JobTypeDelete:
					err = p.Delete.Run(p.AppCtx, jobID)
				case model.JobTypeExport:
					err = p.Export.Run(p.AppCtx, jobID)
				default:
					logger.Errorf("Unknown job type '%s'.", jobType)
					return
				}
				if err != nil {
					logger.Errorf("Job '%s' (%s) failed: %v", jobID, jobType, err)
					return
				}

				record, err := p.Jobs.Get(p.AppCtx, jobID)
				if err != nil || record == nil {
					logger.Errorf("Failed to read back job '%s': %v", jobID, err)
					return
				}
				logger.Infof("Job '%s' finished with status %s (errors: %d).", jobID, record.Status, record.ErrorCount)
			}()
			return nil
		},
	})
}
