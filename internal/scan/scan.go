// Package scan 在收件目录里挑选本次要处理的名单批次，并在处理后打上已处理标记。
//
// 标记插在扩展名之前（export_x__processed.csv）；追加在扩展名之后的写法（export_x.csv__processed）
// 在选择时同样算作已处理。
package scan

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/John-Robertt/checkin/internal/infra/fsx"
)

// ProcessedMarker 出现在文件名中即表示该批次已处理。
const ProcessedMarker = "__processed"

// ErrNoBatch 表示没有需要处理的新批次（不是失败）。
var ErrNoBatch = errors.New("没有待处理的名单批次")

// Batch 是收件目录中的一个名单文件。
type Batch struct {
	Path    string
	Name    string
	ModTime time.Time
}

// Processed 报告该批次是否已处理。
func (b Batch) Processed() bool { return strings.Contains(b.Name, ProcessedMarker) }

// SelectBatch 从 dir 中挑选本次要处理的批次。
//
// 规则（硬约束）：
// - 只看 dir 第一层、文件名以 prefix 开头的普通文件；未处理的还必须是 .csv
// - 只考虑比“最新的已处理批次”更新的未处理文件（没有已处理批次时全部参与）
// - 在候选中取修改时间最新的一个；同一时间按文件名取最大的，保证结果稳定
// - 没有候选时返回 ErrNoBatch
func SelectBatch(dir, prefix string) (Batch, error) {
	all, err := ListBatches(dir, prefix)
	if err != nil {
		return Batch{}, err
	}

	var latestProcessed time.Time
	for _, b := range all {
		if b.Processed() && b.ModTime.After(latestProcessed) {
			latestProcessed = b.ModTime
		}
	}

	var best *Batch
	for i := range all {
		b := &all[i]
		if b.Processed() || !strings.EqualFold(filepath.Ext(b.Name), ".csv") {
			continue
		}
		if !latestProcessed.IsZero() && !b.ModTime.After(latestProcessed) {
			continue
		}
		if best == nil || b.ModTime.After(best.ModTime) || (b.ModTime.Equal(best.ModTime) && b.Name > best.Name) {
			best = b
		}
	}
	if best == nil {
		return Batch{}, ErrNoBatch
	}
	return *best, nil
}

// ListBatches 列出 dir 第一层中以 prefix 开头的普通文件，按文件名排序。
func ListBatches(dir, prefix string) ([]Batch, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]Batch, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Batch{Path: filepath.Join(dir, name), Name: name, ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ProcessedName 返回批次处理后的文件名：标记插在扩展名前（export_x.csv -> export_x__processed.csv）。
func ProcessedName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ProcessedMarker + ext
}

// MarkProcessed 把批次改名为已处理，返回新路径。目标已存在时不覆盖并返回错误。
//
// 改名会刷新目录但保留文件修改时间；为了让“只处理更新的文件”规则生效，这里把修改时间更新为当前时间。
func MarkProcessed(b Batch) (string, error) {
	if b.Processed() {
		return b.Path, nil
	}
	dst := filepath.Join(filepath.Dir(b.Path), ProcessedName(b.Name))
	if err := fsx.RenameNoOverwrite(b.Path, dst); err != nil {
		return "", err
	}
	now := time.Now()
	if err := os.Chtimes(dst, now, now); err != nil {
		return dst, err
	}
	return dst, nil
}
