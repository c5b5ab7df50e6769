// Package probe 在正式运行前检查签到页是否可达、是否被拦截。
package probe

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/John-Robertt/checkin/internal/checkin"
	"github.com/John-Robertt/checkin/internal/form"
)

// Result 是一次 HTTP 预检的结论。
type Result struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Title      string        `json:"title"`
	Elapsed    time.Duration `json:"elapsed_ns"`

	// HasNumberInput 为 false 不代表页面不可用：表单可能由前端脚本渲染。
	HasNumberInput bool   `json:"has_number_input"`
	Blocked        bool   `json:"blocked"`
	BlockedMarker  string `json:"blocked_marker,omitempty"`
}

// Check 用 HTTP GET 拉取签到页并分析。
//
// 返回的 error 可能是 *HTTPStatusError 或 *BlockedError；这两种情况下 Result 仍然有效。
func Check(ctx context.Context, c *resty.Client, page checkin.Page) (Result, error) {
	start := time.Now()
	resp, err := c.R().SetContext(ctx).Get(page.URL)
	if err != nil {
		return Result{URL: page.URL}, err
	}

	res := Analyze(resp.Body(), page)
	res.URL = page.URL
	res.StatusCode = resp.StatusCode()
	res.Elapsed = time.Since(start)
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		res.FinalURL = raw.Request.URL.String()
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// 拦截页常以 403/503 返回：优先给出更可操作的 BlockedError。
		if res.Blocked {
			return res, &BlockedError{URL: page.URL, Marker: res.BlockedMarker}
		}
		return res, &HTTPStatusError{URL: page.URL, StatusCode: res.StatusCode, Location: resp.Header().Get("Location")}
	}
	if res.Blocked {
		return res, &BlockedError{URL: page.URL, Marker: res.BlockedMarker}
	}
	return res, nil
}

// Analyze 是纯函数：从 HTML 中提取标题、号码输入框与拦截标记。
func Analyze(html []byte, page checkin.Page) Result {
	var res Result
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html)); err == nil {
		res.Title = strings.TrimSpace(doc.Find("title").First().Text())
		doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if ph, ok := s.Attr("placeholder"); ok && strings.TrimSpace(ph) == page.NumberPlaceholder {
				res.HasNumberInput = true
				return false
			}
			return true
		})
	}
	if m, ok := form.MatchMarkers(html, page.ChallengeMarkers); ok {
		res.Blocked = true
		res.BlockedMarker = m
	}
	return res
}
