package checkin

import "time"

// DefaultURL 是默认签到表单地址。
const DefaultURL = "https://click.ledeinchristus.com/checkin?cong=Centurion"

// Page 描述签到表单上用于定位的稳定文本。
// 只依赖这几处语义元素；表单其余结构的变化不影响核心流程。
type Page struct {
	URL string

	NumberPlaceholder  string
	VisitorPlaceholder string
	SubmitText         string
	ThankYouText       string
	VisitingText       string

	// NonMemberOptions 是选择页上与成员并列、但不是成员的条目。
	NonMemberOptions []string
	// ChallengeMarkers 命中任一即视为反自动化拦截页（只检测并等待，不尝试破解）。
	ChallengeMarkers []string
}

// DefaultPage 返回当前表单的定位文本。url 为空时使用 DefaultURL。
func DefaultPage(url string) Page {
	if url == "" {
		url = DefaultURL
	}
	return Page{
		URL:                url,
		NumberPlaceholder:  "Personal Number",
		VisitorPlaceholder: "Full names",
		SubmitText:         "Submit",
		ThankYouText:       "Thank you for checking in",
		VisitingText:       "Visiting",
		NonMemberOptions:   []string{"Already a Member", "Visiting", "I have a Church"},
		ChallengeMarkers:   []string{"challenge", "cloudflare"},
	}
}

// Waits 是各步骤的等待上限。超时不是错误，而是状态机的一条既定转移。
type Waits struct {
	Element        time.Duration // 号码输入框、选择列表、访客路径各元素
	Submit         time.Duration // 号码页 Submit 按钮
	Confirm        time.Duration // 感谢语
	ChallengePause time.Duration // 检测到拦截页后的一次性等待
}

func DefaultWaits() Waits {
	return Waits{
		Element:        4 * time.Second,
		Submit:         15 * time.Second,
		Confirm:        4 * time.Second,
		ChallengePause: 10 * time.Second,
	}
}
