// Package ledger 把失败清单写成 CSV，供人工补签或下次运行重新导入。
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/checkin/internal/domain"
	"github.com/John-Robertt/checkin/internal/infra/fsx"
)

// Header 与名单输入的列名一致，失败清单可以直接作为下一次的名单。
var Header = []string{"Family", "Name", "Number"}

// Writer 把失败清单写到 Dir 下 failed_entries_YYYYMMDD_HHMMSS.csv。
type Writer struct {
	Dir string
	Now func() time.Time

	// Path 是最近一次写出的文件路径（空清单不写文件，Path 保持为空）。
	Path string
}

// FileName 返回 t 对应的失败清单文件名（本地时间）。
func FileName(t time.Time) string {
	return "failed_entries_" + t.Format("20060102_150405") + ".csv"
}

// WriteLedger 写出失败清单；清单为空时不写任何文件。
//
// 号码按原始值回写（不做规范化），Family 为空的行写空串。
// 同名文件已存在时追加序号，不覆盖上一份清单。
func (w *Writer) WriteLedger(l domain.FailureLedger) error {
	w.Path = ""
	if len(l) == 0 {
		return nil
	}
	data, err := Encode(l)
	if err != nil {
		return err
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	name := FileName(now())
	for i := 1; ; i++ {
		err = fsx.WriteFileAtomicNoOverwrite(w.Dir, name, data)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || i >= 100 {
			return fmt.Errorf("写入失败清单失败：%w", err)
		}
		base := FileName(now())
		name = fmt.Sprintf("%s_%d.csv", base[:len(base)-len(".csv")], i)
	}
	w.Path = filepath.Join(w.Dir, name)
	return nil
}

// Encode 把清单编码为带表头的 CSV。
func Encode(l domain.FailureLedger) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(Header); err != nil {
		return nil, err
	}
	for _, e := range l {
		if err := cw.Write([]string{e.Family, e.Name, e.Number}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
