// Package roster 把导出的签到名单（CSV）解码为 AttendanceRecord。
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/John-Robertt/checkin/internal/domain"
)

// 列名（大小写不敏感）。Family 可缺省，缺省视为 ""。
const (
	ColFamily = "Family"
	ColName   = "Name"
	ColNumber = "Number"
)

// Error 表示名单无法使用（缺列/无法解析）。上层映射为 error_code=roster_invalid。
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s：%v", domain.ErrCodeRosterInvalid, e.Err)
	}
	return fmt.Sprintf("%s：名单 %q 无效：%v", domain.ErrCodeRosterInvalid, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalid 判断 err 是否为名单错误。
func IsInvalid(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// ReadFile 打开并解码名单文件。
func ReadFile(path string) ([]domain.AttendanceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := Decode(f)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			re.Path = path
		}
		return nil, err
	}
	return recs, nil
}

// Decode 解码带表头的 CSV 名单。
//
// 规则：
// - 表头匹配忽略大小写、首尾空白与 UTF-8 BOM
// - Name/Number 必须存在；Family 缺列或空单元格都视为 ""
// - Family/Name 去首尾空白（纯空白 family 因此落入 "" 哨兵组）
// - Number 只去首尾空白与单引号（表格导出常用 ' 保留前导 0），其余原样保留
// - 每个数据行恰好产生一条记录（不丢行、不去重）
func Decode(r io.Reader) ([]domain.AttendanceRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Err: errors.New("缺少表头")}
		}
		return nil, &Error{Err: err}
	}

	idx := map[string]int{}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\uFEFF")
		h = strings.ToLower(strings.TrimSpace(h))
		if _, ok := idx[h]; !ok {
			idx[h] = i
		}
	}
	nameCol, ok := idx[strings.ToLower(ColName)]
	if !ok {
		return nil, &Error{Err: fmt.Errorf("缺少必填列 %q", ColName)}
	}
	numCol, ok := idx[strings.ToLower(ColNumber)]
	if !ok {
		return nil, &Error{Err: fmt.Errorf("缺少必填列 %q", ColNumber)}
	}
	famCol, hasFamily := idx[strings.ToLower(ColFamily)]
	if !hasFamily {
		famCol = -1
	}

	out := make([]domain.AttendanceRecord, 0, 64)
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &Error{Err: fmt.Errorf("第 %d 行：%w", row, err)}
		}
		out = append(out, domain.AttendanceRecord{
			FamilyKey: strings.TrimSpace(field(fields, famCol)),
			Name:      strings.TrimSpace(field(fields, nameCol)),
			RawNumber: cleanNumber(field(fields, numCol)),
			Row:       row,
		})
	}
	return out, nil
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func cleanNumber(s string) string {
	return strings.Trim(strings.TrimSpace(s), "'")
}
