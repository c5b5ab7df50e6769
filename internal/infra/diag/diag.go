// Package diag 把页面现场（截图 + HTML）落盘到 <diagnostics>/<run_id>/，供事后排查。
package diag

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/checkin/internal/infra/fsx"
)

var ErrDisabled = errors.New("diag: disabled")

// Store 按调用顺序编号保存现场。
//
// 约束：
// - Disabled=true 时不写任何文件
// - 文件名只含安全字符；label 由调用方给出，但不参与路径拼接之外的任何逻辑
type Store struct {
	Dir      string
	Disabled bool
	Now      func() time.Time

	mu  sync.Mutex
	seq int
}

// New 返回写入 <dir>/<runID>/ 的 Store；dir 为空表示关闭现场留存。
func New(dir, runID string) *Store {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return &Store{Disabled: true}
	}
	return &Store{Dir: filepath.Join(filepath.Clean(dir), cleanLabel(runID))}
}

// Enabled 报告是否会写出现场；nil Store 视为关闭。
func (s *Store) Enabled() bool { return s != nil && !s.Disabled }

// Save 保存一份现场，返回截图与 HTML 的路径（对应内容为空时路径为空）。
func (s *Store) Save(label string, png, html []byte) (pngPath, htmlPath string, err error) {
	if !s.Enabled() {
		return "", "", ErrDisabled
	}
	if len(png) == 0 && len(html) == 0 {
		return "", "", fmt.Errorf("现场内容为空")
	}

	base := s.nextBase(label)
	if len(png) > 0 {
		if err := fsx.WriteFileAtomicNoOverwrite(s.Dir, base+".png", png); err != nil {
			return "", "", err
		}
		pngPath = filepath.Join(s.Dir, base+".png")
	}
	if len(html) > 0 {
		if err := fsx.WriteFileAtomicNoOverwrite(s.Dir, base+".html", html); err != nil {
			return pngPath, "", err
		}
		htmlPath = filepath.Join(s.Dir, base+".html")
	}
	return pngPath, htmlPath, nil
}

func (s *Store) nextBase(label string) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return fmt.Sprintf("%03d_%s_%s", seq, cleanLabel(label), now().Format("150405"))
}

var unsafeRE = regexp.MustCompile(`[^a-z0-9_-]+`)

func cleanLabel(l string) string {
	l = strings.ToLower(strings.TrimSpace(l))
	l = unsafeRE.ReplaceAllString(l, "_")
	l = strings.Trim(l, "_")
	if l == "" {
		return "page"
	}
	return l
}
