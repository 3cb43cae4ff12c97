package storage

import (
	"context"
	"fmt"
	"strings"

	"cv-ingest/internal/config"
	"cv-ingest/internal/logger"
)

// Storage 聚合外部依赖，未配置的组件为 nil
type Storage struct {
	// 上传文档
	MinIO *MinIO

	// 解析请求与结果
	RabbitMQ *RabbitMQ

	// 运行审计
	MySQL *MySQL

	// 结果缓存
	Redis *Redis
}

// NewStorage 初始化已配置的组件；任何一个已配置组件失败都返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	log := logger.Component("storage")
	s := &Storage{}
	var (
		err        error
		initErrors []string
	)

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(&cfg.MinIO, logger.Component("minio"))
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger.Component("rabbitmq"))
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else if err = s.RabbitMQ.SetupIngestTopology(); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ topology: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		s.MySQL, err = NewMySQL(&cfg.MySQL, logger.Component("mysql"))
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		log.Info().Msg("Redis未配置, 不启用结果缓存")
	}

	if len(initErrors) > 0 {
		s.Close()
		return nil, fmt.Errorf("存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
