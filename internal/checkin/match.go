package checkin

import (
	"strings"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MatchMode 决定选择页上的名字如何与名单匹配。
type MatchMode string

const (
	// MatchSubstring：页面名字（忽略大小写）是某个名单名字的子串即匹配。
	MatchSubstring MatchMode = "substring"
	// MatchFuzzy：在 substring 基础上，额外接受 Jaro-Winkler 相似度达到阈值的名字。
	MatchFuzzy MatchMode = "fuzzy"
)

const (
	DefaultFuzzyThreshold       = 0.92
	DefaultFuzzyPrefixThreshold = 0.90
)

// Matcher 判断页面上列出的成员是否属于名单。
type Matcher struct {
	Mode      MatchMode
	Threshold float64
	// PrefixThreshold 是页面名字只有名单名字前几个词时的阈值。
	PrefixThreshold float64
}

// Match 报告 pageName 是否匹配 roster 中任一名字。
//
// 比较前两边都做 NFC + Unicode case folding + 空白折叠，
// 因此 "jane" 匹配 "Jane Doe"，"ZOË" 匹配 "Zoë Botha"（无论组合/预组合写法）。
// 空的页面名字不匹配任何人：空串是所有字符串的子串，不能据此选人。
func (m Matcher) Match(pageName string, roster []string) bool {
	p := foldName(pageName)
	if p == "" {
		return false
	}
	for _, r := range roster {
		rn := foldName(r)
		if rn == "" {
			continue
		}
		if strings.Contains(rn, p) {
			return true
		}
		if m.Mode == MatchFuzzy && m.fuzzy(p, rn) {
			return true
		}
	}
	return false
}

func (m Matcher) fuzzy(p, rn string) bool {
	th := m.Threshold
	if th <= 0 {
		th = DefaultFuzzyThreshold
	}
	if matchr.JaroWinkler(p, rn, false) >= th {
		return true
	}
	// 页面常只显示名字的前几个词：与名单名字等长的前缀再比一次。
	pw := strings.Fields(p)
	rw := strings.Fields(rn)
	if len(pw) < len(rw) {
		pth := m.PrefixThreshold
		if pth <= 0 {
			pth = DefaultFuzzyPrefixThreshold
		}
		prefix := strings.Join(rw[:len(pw)], " ")
		return matchr.JaroWinkler(p, prefix, false) >= pth
	}
	return false
}

func foldName(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
