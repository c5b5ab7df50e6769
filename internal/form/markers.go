package form

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MatchMarkers 在一份 HTML 快照里查找任一标记（忽略大小写），返回命中的标记。
//
// 查找范围：文档文本（包含 script 内联内容）+ title + script/iframe 的 src、form 的 action、元素 id。
// 拦截页（例如 Cloudflare challenge）的特征经常只出现在这些属性里，只看可见文本会漏判。
func MatchMarkers(html []byte, markers []string) (string, bool) {
	if len(html) == 0 || len(markers) == 0 {
		return "", false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		// 解析失败时退化为原文匹配，不能因此漏掉拦截页。
		return matchIn(strings.ToLower(string(html)), markers)
	}

	var hay strings.Builder
	hay.WriteString(doc.Find("title").Text())
	hay.WriteByte('\n')
	hay.WriteString(doc.Text())
	doc.Find("script[src], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("src")
		hay.WriteByte('\n')
		hay.WriteString(v)
	})
	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("action")
		hay.WriteByte('\n')
		hay.WriteString(v)
	})
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("id")
		hay.WriteByte('\n')
		hay.WriteString(v)
	})

	return matchIn(strings.ToLower(hay.String()), markers)
}

func matchIn(lowered string, markers []string) (string, bool) {
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}
