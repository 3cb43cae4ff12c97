package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"cv-ingest/internal/config"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/storage/models"
	"cv-ingest/internal/tracing"
	"cv-ingest/pkg/utils"
)

var mysqlTracer = otel.Tracer("cv-ingest/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin 为每个GORM操作创建一个客户端span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("INSERT")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", table),
			),
		}
		if sql := db.Statement.SQL.String(); sql != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("db.statement", tracing.SafeSQL(sql))))
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, table), opts...)
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", max(db.Statement.RowsAffected, 0)))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 未找到是正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordErrorWithInfo(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}

// NewGormTracingPlugin 创建追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// gormWriter 把GORM日志转到zerolog
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Debug().Msgf(format, args...)
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// MySQL 运行审计存储
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	logger zerolog.Logger
}

var _ processor.RunRecorder = (*MySQL)(nil)

// NewMySQL 连接MySQL、注册追踪插件并迁移审计表
func NewMySQL(cfg *config.MySQLConfig, l zerolog.Logger) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormlogger.New(gormWriter{logger: l}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
		PrepareStmt: true,
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(gormlogger.Silent)}).
		AutoMigrate(&models.IngestionRun{}, &models.OutboxMessage{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	l.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并迁移审计表和发件箱表")
	return &MySQL{db: db, cfg: cfg, logger: l}, nil
}

// DB 返回GORM实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 健康检查
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NewIngestionRun 把运行记录转换为表模型
func NewIngestionRun(rec processor.RunRecord) *models.IngestionRun {
	states := make([]string, len(rec.States))
	for i, s := range rec.States {
		states[i] = string(s)
	}
	run := &models.IngestionRun{
		RunID:        rec.RunID,
		DocumentMD5:  rec.DocumentMD5,
		Filename:     rec.Filename,
		MIMEType:     rec.MIMEType,
		SizeBytes:    int64(rec.SizeBytes),
		Status:       rec.Status,
		ErrorKind:    string(rec.ErrorKind),
		ErrorMessage: tracing.TruncateString(rec.ErrorMessage, 2000),
		FinalState:   string(rec.FinalState),
		StatesJSON:   utils.ToJSON(states),
		Tier:         string(rec.Tier),
		Strategy:     string(rec.Strategy),
		TextLength:   rec.TextLength,
		Truncated:    rec.Truncated,
		CacheHit:     rec.CacheHit,
		DurationMS:   rec.Duration.Milliseconds(),
	}
	if len(rec.Attempts) > 0 {
		run.AttemptsJSON = utils.ToJSON(rec.Attempts)
	}
	return run
}

// RecordRun 写入运行记录，同一 RunID 重复写入时覆盖
func (m *MySQL) RecordRun(ctx context.Context, rec processor.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("运行记录缺少 RunID")
	}
	run := NewIngestionRun(rec)
	err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(run).Error
	if err != nil {
		return fmt.Errorf("保存运行记录失败: %w", err)
	}
	return nil
}

// GetRun 按 RunID 查询，未找到返回 gorm.ErrRecordNotFound
func (m *MySQL) GetRun(ctx context.Context, runID string) (*models.IngestionRun, error) {
	var run models.IngestionRun
	if err := m.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
