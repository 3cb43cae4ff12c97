package parser

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer 把 PDF 页面渲染成图片文件，返回按页序排列的路径
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, dir string) ([]string, error)
}

// FitzRasterizer 基于 MuPDF (go-fitz) 的渲染器
type FitzRasterizer struct {
	DPI      float64
	MaxPages int // 0 表示不限制
}

var _ Rasterizer = (*FitzRasterizer)(nil)

// NewFitzRasterizer 创建渲染器
func NewFitzRasterizer(dpi float64, maxPages int) *FitzRasterizer {
	if dpi <= 0 {
		dpi = 200
	}
	return &FitzRasterizer{DPI: dpi, MaxPages: maxPages}
}

func (r *FitzRasterizer) Rasterize(ctx context.Context, data []byte, dir string) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("打开PDF失败: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF没有页面")
	}
	if r.MaxPages > 0 && pageCount > r.MaxPages {
		pageCount = r.MaxPages
	}

	paths := make([]string, 0, pageCount)
	for n := 0; n < pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(n, r.DPI)
		if err != nil {
			return nil, fmt.Errorf("渲染第 %d 页失败: %w", n+1, err)
		}

		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", n+1))
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("创建第 %d 页图片失败: %w", n+1, err)
		}
		err = png.Encode(f, img)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("编码第 %d 页图片失败: %w", n+1, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
