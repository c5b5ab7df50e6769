package rodform

import (
	"strings"

	"github.com/John-Robertt/checkin/internal/form"
)

// 成员选择列表：每个 group-item 里的 Text 块是名字，名字前面的兄弟 button 是选中控件。
const (
	memberItemX     = "//div[contains(@class,'group-item')]//div[contains(@class,'Text')"
	memberSelectorX = "./preceding-sibling::button"
)

// xpathFor 把语义化的 Query 翻译成 XPath。
func xpathFor(q form.Query) string {
	var x string
	switch q.Kind {
	case form.KindInput:
		x = "//input[@placeholder=" + xpathLiteral(q.Text) + "]"
	case form.KindButton:
		x = "//button[contains(normalize-space(.), " + xpathLiteral(q.Text) + ")]"
	case form.KindText:
		x = "//*[contains(text(), " + xpathLiteral(q.Text) + ")]"
	case form.KindMemberOption:
		var b strings.Builder
		b.WriteString(memberItemX)
		for _, ex := range q.Exclude {
			if ex == "" {
				continue
			}
			b.WriteString(" and not(contains(text(), " + xpathLiteral(ex) + "))")
		}
		b.WriteString("]")
		x = b.String()
	default:
		return ""
	}
	if q.Last {
		x = "(" + x + ")[last()]"
	}
	return x
}

// xpathLiteral 把任意字符串转成 XPath 1.0 字符串字面量（XPath 没有转义语法）。
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
