package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngestionRun 一次简历解析运行的审计记录，不保存简历正文和结构化结果
type IngestionRun struct {
	RunID        string         `gorm:"type:char(36);primaryKey"`
	DocumentMD5  string         `gorm:"column:document_md5;type:char(32);index:idx_ingestion_runs_md5"`
	Filename     string         `gorm:"type:varchar(255)"`
	MIMEType     string         `gorm:"column:mime_type;type:varchar(128)"`
	SizeBytes    int64          `gorm:"type:bigint"`
	Status       string         `gorm:"type:varchar(32);not null;index:idx_ingestion_runs_status"`
	ErrorKind    string         `gorm:"type:varchar(64)"`
	ErrorMessage string         `gorm:"type:text"`
	FinalState   string         `gorm:"type:varchar(64)"`
	StatesJSON   datatypes.JSON `gorm:"column:states_json;type:json"`
	Tier         string         `gorm:"type:varchar(32)"`
	Strategy     string         `gorm:"type:varchar(32)"`
	TextLength   int            `gorm:"type:int"`
	Truncated    bool           `gorm:"type:tinyint(1);default:0"`
	CacheHit     bool           `gorm:"type:tinyint(1);default:0"`
	DurationMS   int64          `gorm:"column:duration_ms;type:bigint"`
	AttemptsJSON datatypes.JSON `gorm:"column:attempts_json;type:json"`
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_ingestion_runs_created"`
}

func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
