package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gowvp/forensight/internal/core/vision"
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff"}

// DirDriver 按文件名顺序回放目录中的图片
type DirDriver struct {
	Dir  string
	FPS  float64
	Loop bool

	files []string
	idx   int
	pacer *pacer
}

var _ Driver = (*DirDriver)(nil)

// newDirDriver 解析 dir:///path?fps=5&loop=true
func newDirDriver(u *url.URL) (*DirDriver, error) {
	dir := u.Path
	if u.Host != "" {
		dir = filepath.Join(u.Host, u.Path)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: dir source requires a path", vision.ErrConfiguration)
	}
	d := &DirDriver{Dir: dir, FPS: 5}
	q := u.Query()
	var err error
	if v := q.Get("fps"); v != "" {
		if d.FPS, err = strconv.ParseFloat(v, 64); err != nil || d.FPS < 0 {
			return nil, fmt.Errorf("%w: dir fps[%s]", vision.ErrConfiguration, v)
		}
	}
	if v := q.Get("loop"); v != "" {
		if d.Loop, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("%w: dir loop[%s]", vision.ErrConfiguration, v)
		}
	}
	return d, nil
}

func (d *DirDriver) Open(context.Context) error {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return err
	}
	d.files = d.files[:0]
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		d.files = append(d.files, filepath.Join(d.Dir, e.Name()))
	}
	if len(d.files) == 0 {
		return fmt.Errorf("no image in %s", d.Dir)
	}
	slices.Sort(d.files)
	d.idx = 0
	d.pacer = newPacer(d.FPS)
	return nil
}

// Next 解码失败的文件会被跳过，错误交给 Stream 计数
func (d *DirDriver) Next(ctx context.Context) (*vision.Frame, error) {
	if d.idx >= len(d.files) {
		if !d.Loop {
			return nil, io.EOF
		}
		d.idx = 0
	}
	if err := d.pacer.wait(ctx); err != nil {
		return nil, err
	}
	path := d.files[d.idx]
	d.idx++

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	bounds := img.Bounds()
	return &vision.Frame{
		CaptureTime: time.Now(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Payload:     b,
		Metadata:    map[string]any{"driver": "dir", "file": filepath.Base(path)},
	}, nil
}

func (d *DirDriver) Close() error {
	d.files = nil
	return nil
}
