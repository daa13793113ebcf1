package media

import (
	"regexp"
	"strings"

	"github.com/qqbot-core/gateway/protocol"
)

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	bareURLRe       = regexp.MustCompile(`https?://\S+\.(?:png|jpg|jpeg|gif|webp)`)
	bareLocalPathRe = regexp.MustCompile(`/\S+\.(?:png|jpg|jpeg|gif|webp|bmp)`)
	dottedTokenRe   = regexp.MustCompile(`\b([A-Za-z0-9]+)\.([A-Za-z0-9]+)\b`)
)

// Resolved is the output of Resolve: the de-duplicated image list to
// send plus the cleaned text, per spec.md §4.6.
type Resolved struct {
	Images        []protocol.MediaSource
	Text          string
	LocalPathsLogged []string
}

// Resolve extracts and classifies images from text and any explicit
// mediaURLs the reply pipeline supplied, applying the rules of
// spec.md §4.6 in order.
func Resolve(text string, mediaURLs []string) Resolved {
	var images []protocol.MediaSource
	seen := make(map[string]bool)
	add := func(src protocol.MediaSource) {
		if seen[src.Value] {
			return
		}
		seen[src.Value] = true
		images = append(images, src)
	}

	// Rule 1: explicit payload.mediaUrl(s).
	for _, u := range mediaURLs {
		if src, ok := classify(u); ok {
			add(src)
		}
	}

	// Rule 2: markdown image literals.
	for _, m := range markdownImageRe.FindAllStringSubmatch(text, -1) {
		if src, ok := classify(m[1]); ok {
			add(src)
		}
	}
	text = markdownImageRe.ReplaceAllString(text, "")

	// Rule 3: bare http(s) image URLs, not already inside markdown/quotes.
	text = replaceUnquoted(text, bareURLRe, func(match string) string {
		add(protocol.MediaSource{Kind: protocol.MediaPublicURL, Value: match})
		return ""
	})

	// Rule 4: bare absolute local paths — logged, never auto-sent.
	var logged []string
	for _, m := range bareLocalPathRe.FindAllString(text, -1) {
		logged = append(logged, m)
	}

	if len(images) > 0 {
		text = simplifyApologeticText(text)
	} else {
		text = rewriteDottedTokens(text)
	}

	return Resolved{Images: images, Text: strings.TrimSpace(text), LocalPathsLogged: logged}
}

// classify turns a raw string target (from a payload field or a
// markdown literal) into a MediaSource, per spec.md §3.
func classify(s string) (protocol.MediaSource, bool) {
	switch {
	case strings.HasPrefix(s, "data:"):
		return protocol.MediaSource{Kind: protocol.MediaDataURL, Value: s}, true
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		return protocol.MediaSource{Kind: protocol.MediaPublicURL, Value: s}, true
	case strings.HasPrefix(s, "/") && IsSupportedExt(extOf(s)):
		return protocol.MediaSource{Kind: protocol.MediaLocalPath, Value: s}, true
	default:
		return protocol.MediaSource{}, false
	}
}

func extOf(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// replaceUnquoted applies re to text, skipping matches immediately
// preceded by '(', '[', '\'', or '"' — those belong to markdown/quoted
// forms already handled elsewhere, per spec.md §4.6 rule 3.
func replaceUnquoted(text string, re *regexp.Regexp, repl func(string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 {
			switch text[start-1] {
			case '(', '[', '\'', '"':
				continue
			}
		}
		b.WriteString(text[last:start])
		b.WriteString(repl(text[start:end]))
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// apologeticParagraphRe matches curated apology/meta boilerplate a
// model sometimes emits when it expects an image send to fail.
var apologeticParagraphRe = []*regexp.Regexp{
	regexp.MustCompile(`抱歉.{0,40}(无法|不能|没能).{0,20}(图片|图像|显示)`),
	regexp.MustCompile(`(图片|图像).{0,20}(可能|或许).{0,20}(无法|不能).{0,20}(显示|加载|发送)`),
	regexp.MustCompile(`如果.{0,20}(图片|图像).{0,20}(没有|未能).{0,20}(显示|发送|加载)`),
}

var stopWords = []string{
	"的", "了", "是", "在", "也", "就", "都", "和", "与", "或", "这", "那",
	"一个", "可能", "如果", "但是", "因为", "所以", "这样", "那么", "我", "你", "它",
}

// simplifyApologeticText collapses purely apologetic/meta paragraphs
// into the platform's standard caption once real images are attached,
// per spec.md §4.6.
func simplifyApologeticText(text string) string {
	paragraphs := strings.Split(text, "\n\n")
	changed := false
	for i, p := range paragraphs {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if isApologeticParagraph(trimmed) {
			paragraphs[i] = "图片如上 ☝️"
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(paragraphs, "\n\n")
}

func isApologeticParagraph(p string) bool {
	for _, re := range apologeticParagraphRe {
		if re.MatchString(p) {
			return true
		}
	}
	return mostlyStopWords(p)
}

// mostlyStopWords is a coarse proxy for "this paragraph says nothing
// concrete": true when stop words account for a large share of the
// paragraph's character count and the paragraph is short.
func mostlyStopWords(p string) bool {
	runes := []rune(p)
	if len(runes) == 0 || len(runes) > 120 {
		return false
	}
	stopCount := 0
	for _, w := range stopWords {
		stopCount += strings.Count(p, w) * len([]rune(w))
	}
	return float64(stopCount)/float64(len(runes)) > 0.35
}

// rewriteDottedTokens replaces alphanumeric X.Y sequences with X_Y when
// no image is being sent, so the platform doesn't mistake them for a
// blocked URL-like token, per spec.md §4.6.
func rewriteDottedTokens(text string) string {
	if !dottedTokenRe.MatchString(text) {
		return text
	}
	rewritten := dottedTokenRe.ReplaceAllString(text, "${1}_${2}")
	return rewritten + "\n\n（注：为避免平台拦截，\".\" 已替换为 \"_\"）"
}
