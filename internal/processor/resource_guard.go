package processor

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"cv-ingest/internal/parser"
)

// ResourceGuard 记录一次运行创建的所有临时资源，Release 时全部清理
type ResourceGuard struct {
	mu       sync.Mutex
	baseDir  string
	paths    []string
	files    []*os.File
	hooks    []func() error
	released bool
	created  int
	logger   zerolog.Logger
}

var _ parser.Scratch = (*ResourceGuard)(nil)

// NewResourceGuard baseDir 为空时使用系统临时目录
func NewResourceGuard(baseDir string, l zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{baseDir: baseDir, logger: l}
}

var errGuardReleased = errors.New("resource guard already released")

// TempDir 创建并登记临时目录
func (g *ResourceGuard) TempDir(pattern string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return "", errGuardReleased
	}
	dir, err := os.MkdirTemp(g.baseDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	g.paths = append(g.paths, dir)
	g.created++
	return dir, nil
}

// TempFile 创建并登记临时文件，Release 时先关闭再删除
func (g *ResourceGuard) TempFile(pattern string) (*os.File, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil, errGuardReleased
	}
	f, err := os.CreateTemp(g.baseDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	g.paths = append(g.paths, f.Name())
	g.files = append(g.files, f)
	g.created++
	return f, nil
}

// OnRelease 登记释放回调，按登记的逆序执行
func (g *ResourceGuard) OnRelease(hook func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		_ = hook()
		return
	}
	g.hooks = append(g.hooks, hook)
}

// Created 本次运行创建过的临时资源数量
func (g *ResourceGuard) Created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

// Release 可重复调用，只有第一次生效
func (g *ResourceGuard) Release() error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil
	}
	g.released = true
	hooks, files, paths := g.hooks, g.files, g.paths
	g.hooks, g.files, g.paths = nil, nil, nil
	g.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range files {
		// 可能已被使用方关闭
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(paths[i]); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		g.logger.Warn().Err(err).Int("paths", len(paths)).Msg("临时资源清理不完整")
	} else if len(paths) > 0 {
		g.logger.Debug().Int("paths", len(paths)).Msg("临时资源已清理")
	}
	return err
}
