package probe

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示签到页返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// BlockedError 表示签到页被反自动化拦截页替代。
// 只做检测：上层据此提示用户（换代理/有头模式），不尝试绕过。
type BlockedError struct {
	URL    string
	Marker string
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Marker) == "" {
		return "blocked"
	}
	return "blocked: 命中标记 " + strings.TrimSpace(e.Marker)
}
