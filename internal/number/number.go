// Package number 把名单里的原始号码字段规范化为表单期望的纯数字串。
package number

import "strings"

// localLen 是本地手机号去掉前导 0 后的长度（源数据常把前导 0 丢掉）。
const localLen = 9

// Normalize 规范化原始号码。
//
// 规则（固定）：
// - 空/空白 => ""（保持空，绝不编造号码）
// - 去掉所有非数字字符
// - 恰好 9 位且不以 0 开头 => 前补 0
//
// 不会失败：无法得到数字时返回 ""，它仍是合法（但几乎不可能匹配）的候选号码。
// 幂等：Normalize(Normalize(x)) == Normalize(x)。
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw) + 1)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	num := b.String()

	if len(num) == localLen && num[0] != '0' {
		return "0" + num
	}
	return num
}
