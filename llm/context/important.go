package context

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/contextcache/llm/tokenizer"
)

var (
	// fencedBlock 匹配 ``` 围起来的代码块（含语言标记）
	fencedBlock = regexp.MustCompile("(?s)```.*?```")

	// declarationLine 匹配类声明的代码行
	declarationLine = regexp.MustCompile(
		`(?m)^[ \t]*(?:export[ \t]+)?(?:default[ \t]+)?(?:async[ \t]+)?` +
			`(?:function|class|const|import|export|interface|type|func|def)\b.*$`)
)

type span struct {
	start, end int
}

// extractImportant returns fenced code blocks and declaration-like lines of
// text in their original order. Declaration lines inside code blocks are not
// reported twice.
func extractImportant(text string) []string {
	fences := fencedBlock.FindAllStringIndex(text, -1)
	spans := make([]span, 0, len(fences))
	for _, f := range fences {
		spans = append(spans, span{f[0], f[1]})
	}

	inFence := func(pos int) bool {
		for _, f := range fences {
			if pos >= f[0] && pos < f[1] {
				return true
			}
		}
		return false
	}
	for _, d := range declarationLine.FindAllStringIndex(text, -1) {
		if !inFence(d[0]) {
			spans = append(spans, span{d[0], d[1]})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	parts := make([]string, 0, len(spans))
	for _, s := range spans {
		if part := strings.TrimSpace(text[s.start:s.end]); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// compactText shrinks text to at most quota tokens. It keeps a short prefix,
// then as many important parts as fit, then the marker. When not even the
// prefix and marker fit, the text is cut at a rune boundary instead.
func compactText(est tokenizer.Estimator, text string, quota, prefixChars int, marker string) string {
	if est.CountTokens(text) <= quota {
		return text
	}
	if quota <= 0 {
		return ""
	}

	prefix := strings.TrimSpace(runePrefix(text, prefixChars))
	kept := []string{prefix}
	if est.CountTokens(joinParts(kept, marker)) > quota {
		return cutToQuota(est, text, quota, marker)
	}

	for _, part := range extractImportant(text) {
		if strings.Contains(prefix, part) {
			continue
		}
		candidate := append(append([]string(nil), kept...), part)
		if est.CountTokens(joinParts(candidate, marker)) <= quota {
			kept = candidate
		}
	}
	return joinParts(kept, marker)
}

func joinParts(parts []string, marker string) string {
	all := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p != "" {
			all = append(all, p)
		}
	}
	if marker != "" {
		all = append(all, marker)
	}
	return strings.Join(all, "\n")
}

// cutToQuota returns the longest rune prefix of text that, with the marker
// appended, fits quota. Without room for the marker it returns the bare
// prefix, and "" when nothing fits.
func cutToQuota(est tokenizer.Estimator, text string, quota int, marker string) string {
	runes := []rune(text)
	withMarker := func(n int) string {
		if n == 0 {
			return marker
		}
		return string(runes[:n]) + "\n" + marker
	}

	build := withMarker
	if marker == "" || est.CountTokens(marker) > quota {
		build = func(n int) string { return string(runes[:n]) }
	}

	// 二分查找满足配额的最长前缀，估算器对前缀单调
	n := sort.Search(len(runes)+1, func(n int) bool {
		return est.CountTokens(build(n)) > quota
	}) - 1
	if n < 0 {
		return ""
	}
	out := build(n)
	if est.CountTokens(out) > quota {
		return ""
	}
	return out
}

func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
