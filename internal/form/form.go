// Package form 定义核心流程依赖的“表单交互能力”（浏览器之上的一层薄接口）。
//
// 核心只依赖这里的契约；真实实现在 form/rodform（go-rod），测试替身在 form/formtest。
package form

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示在给定上限内没有找到元素。Find 把它吸收为 (nil,false)，只在驱动内部流转。
var ErrNotFound = errors.New("form: element not found")

// Kind 是元素定位方式（按稳定的文本/角色定位，不依赖页面结构细节）。
type Kind int

const (
	// KindInput：placeholder 等于 Text 的输入框。
	KindInput Kind = iota + 1
	// KindButton：文本包含 Text 的按钮。
	KindButton
	// KindText：文本包含 Text 的块级元素（提示语/选项）。
	KindText
	// KindMemberOption：家庭成员选择列表中的条目；Exclude 中的文本不是成员（例如“Visiting”）。
	// 点击成员条目 = 切换该成员的选中控件。
	KindMemberOption
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindButton:
		return "button"
	case KindText:
		return "text"
	case KindMemberOption:
		return "member_option"
	default:
		return "unknown"
	}
}

// Query 描述一次定位。
type Query struct {
	Kind    Kind
	Text    string
	Last    bool     // 多个匹配时取最后一个（页面上常有多个 Submit）
	Exclude []string // 仅 KindMemberOption 使用
}

// Element 是定位到的页面元素句柄。句柄只在当前页面状态内有效。
type Element interface {
	Text() string
}

// Driver 是对外部浏览器会话的能力接口。
//
// 约束：
// - 所有等待都由调用方给出上限；超时不是错误，Find 返回 (nil,false)
// - Driver 是独占资源：同一时刻只允许一个调用方驱动（核心流程天然串行）
// - CaptureDiagnostic 是旁路：best-effort，绝不失败、不影响控制流
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, q Query, timeout time.Duration) (Element, bool)
	FindAll(ctx context.Context, q Query, timeout time.Duration) []Element
	Click(ctx context.Context, el Element) error
	// Type 用 text 替换元素当前内容。
	Type(ctx context.Context, el Element, text string) error
	PageContainsAny(ctx context.Context, markers []string) bool
	CaptureDiagnostic(ctx context.Context, label string)
}

// Input/Button/Text/Members 是构造 Query 的便捷函数。
func Input(placeholder string) Query { return Query{Kind: KindInput, Text: placeholder} }
func Button(text string) Query      { return Query{Kind: KindButton, Text: text} }
func LastButton(text string) Query  { return Query{Kind: KindButton, Text: text, Last: true} }
func Text(text string) Query        { return Query{Kind: KindText, Text: text} }
func Members(exclude ...string) Query {
	return Query{Kind: KindMemberOption, Exclude: append([]string(nil), exclude...)}
}
