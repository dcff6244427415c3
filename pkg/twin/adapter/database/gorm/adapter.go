package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	dbconfig "github.com/tigerroll/twinstore/pkg/twin/adapter/database/config"
	coreconfig "github.com/tigerroll/twinstore/pkg/twin/core/config"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName applies the table name to the GORM DB session if the model implements the TableNamer interface.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	val := reflect.ValueOf(model)

	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	// 1. Check if the model itself implements TableNamer (for single entity)
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	// 2. For slices, check if the element type implements TableNamer.
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()

		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}

		// TableName() is implemented with a value receiver, so check via a fresh instance.
		if reflect.New(elemType).Type().Implements(reflect.TypeOf((*TableNamer)(nil)).Elem()) {
			if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
				return db.Table(namer.TableName())
			}
		}
	}

	// 3. If unable to resolve, let GORM infer the table name from the model.
	return db.Model(model)
}

// NewGormLogger creates a gorm.Logger instance based on the configured log level.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch coreconfig.LogLevel(level) {
	case coreconfig.LogLevelSilent:
		gormLevel = gorm_logger.Silent
	case coreconfig.LogLevelError:
		gormLevel = gorm_logger.Error
	case coreconfig.LogLevelWarn:
		gormLevel = gorm_logger.Warn
	case coreconfig.LogLevelInfo:
		gormLevel = gorm_logger.Info
	default:
		gormLevel = gorm_logger.Silent
	}

	writer := NewGormWriter()

	return gorm_logger.New(
		writer,
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter is an io.Writer that redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Write implements io.Writer.
func (w *GormWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	// GORM SQL traces are treated as DEBUG, everything else as INFO.
	if strings.Contains(msg, "[") && strings.Contains(msg, "]") && (strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE")) {
		logger.Debugf("[GORM] %s", msg)
	} else {
		logger.Infof("[GORM] %s", msg)
	}
	return len(p), nil
}

// Printf implements gorm_logger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if strings.Contains(msg, "[") && strings.Contains(msg, "]") && (strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE")) {
		logger.Debugf("[GORM] %s", strings.TrimSpace(msg))
	} else {
		logger.Infof("[GORM] %s", strings.TrimSpace(msg))
	}
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    dbconfig.DatabaseConfig
	dbType string
	name   string
}

// NewGormDBAdapter creates a new GormDBAdapter.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.DBConnection {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get underlying *sql.DB: %v", err)
	}

	return &GormDBAdapter{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		dbType: cfg.Type,
		name:   name,
	}
}

// GetGormDB returns the underlying *gorm.DB instance.
// NOTE: This method is intended for internal use within the 'gorm' adapter package only.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

func (a *GormDBAdapter) Close() error {
	if a.sqlDB != nil {
		logger.Infof("Closing database connection '%s'...", a.name)
		return a.sqlDB.Close()
	}
	return nil
}

func (a *GormDBAdapter) Type() string {
	return a.dbType
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	// Re-ping the connection pool to ensure validity
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// ExecuteQuery implements database.DBExecutor.
// This method executes a read operation using GORM's Find method.
func (a *GormDBAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	db := a.db.WithContext(ctx)

	db = applyTableName(db, target)

	result := db.Where(query).Find(target)

	if result.Error != nil {
		return result.Error
	}

	// Find() does not return ErrRecordNotFound for slices, so only error checking is performed here.
	return nil
}

// ExecuteQueryAdvanced implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := a.db.WithContext(ctx)

	db = applyTableName(db, target)

	if query != nil {
		db = db.Where(query)
	}

	if orderBy != "" {
		db = db.Order(orderBy)
	}

	if limit > 0 {
		db = db.Limit(limit)
	}

	result := db.Find(target)

	if result.Error != nil {
		return result.Error
	}
	return nil
}

// Count implements database.DBExecutor.
func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx)

	db = applyTableName(db, model)

	if query != nil {
		db = db.Where(query)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ExecuteUpdate implements database.DBExecutor.
// This method executes a write operation (CREATE, UPDATE, DELETE) using GORM.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)

	// NOTE: Skip GORM's default transaction.
	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	var result *gorm.DB

	// Apply table name if specified (prioritize instructions from the repository layer).
	if tableName != "" {
		db = db.Table(tableName)
	}

	switch operation {
	case "CREATE":
		// For CREATE operations, 'model' must be a pointer to an entity or a slice of entities.
		result = db.Create(model)

	case "UPDATE":
		// Using db.Model(model) automatically uses the model's primary key as a WHERE clause condition.
		db = db.Model(model)
		result = db.Where(query).Updates(model)

	case "DELETE":
		if query != nil {
			db = db.Where(query)
		}

		result = db.Delete(model)

	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)

	// NOTE: Skip GORM's default transaction.
	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	var columns []clause.Column

	if tableName != "" {
		db = db.Table(tableName)
	}

	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	onConflict := clause.OnConflict{
		Columns: columns,
	}

	if len(updateColumns) > 0 {
		// DO UPDATE
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		// DO NOTHING
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsertConditional implements database.DBExecutor.
// The DO UPDATE branch carries a WHERE condition evaluated against the existing
// row, so the decision between "take over" and "refuse" happens inside the
// storage engine in a single statement.
func (a *GormDBAdapter) ExecuteUpsertConditional(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string, condition string, args ...interface{}) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)

	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	if tableName != "" {
		db = db.Table(tableName)
	}

	var columns []clause.Column
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	onConflict := clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}
	if condition != "" {
		onConflict.Where = clause.Where{
			Exprs: []clause.Expression{clause.Expr{SQL: condition, Vars: args}},
		}
	}

	result := db.Clauses(onConflict).Create(model)

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Exec implements database.DBExecutor.
// GORM rebinds the '?' placeholders to the dialect's native style.
func (a *GormDBAdapter) Exec(ctx context.Context, statement string, args ...interface{}) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)
	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	result := db.Exec(statement, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Query implements database.DBExecutor.
func (a *GormDBAdapter) Query(ctx context.Context, target interface{}, query string, args ...interface{}) error {
	db := a.db.WithContext(ctx)

	result := db.Raw(query, args...).Scan(target)
	if result.Error != nil {
		return result.Error
	}
	return nil
}
