package compressor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vendorgate/gateway/internal/translator"
)

var (
	filePathRe = regexp.MustCompile(`[./\w-]+/[\w./-]+\.\w{1,8}|\b[\w-]+\.\w{2,8}\b`)

	artifactVerbs = []struct {
		verb string
		re   *regexp.Regexp
	}{
		{"created", regexp.MustCompile(`(?i)\b(creat\w*|add\w*|wrote|wrote to|generat\w*)\b`)},
		{"modified", regexp.MustCompile(`(?i)\b(modif\w*|edit\w*|updat\w*|chang\w*|refactor\w*)\b`)},
		{"deleted", regexp.MustCompile(`(?i)\b(delet\w*|remov\w*)\b`)},
		{"read", regexp.MustCompile(`(?i)\b(read|open\w*|view\w*|inspect\w*)\b`)},
	}

	decisionRe = regexp.MustCompile(`(?i)\b(decided to|chose to|chose|went with|opted for)\s+([^.\n]{3,120})`)
	decisionCJKRe = regexp.MustCompile(`(决定|选择了|采用了)([^。\n]{1,60})`)
)

// mineArtifacts finds file-path-looking tokens and tags each with the verb
// (created/modified/deleted/read) found nearby in the same line (spec.md
// §4.6 "Structured summary").
func mineArtifacts(turns []translator.Turn) []string {
	seen := map[string]bool{}
	var out []string

	for _, t := range turns {
		for _, line := range strings.Split(t.Text, "\n") {
			paths := filePathRe.FindAllString(line, -1)
			if len(paths) == 0 {
				continue
			}
			verb := "referenced"
			for _, av := range artifactVerbs {
				if av.re.MatchString(line) {
					verb = av.verb
					break
				}
			}
			for _, p := range paths {
				key := verb + ":" + p
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, fmt.Sprintf("%s %s", verb, p))
			}
		}
	}
	return out
}

// mineDecisions finds "decided to X"/"chose Y" phrasing and CJK
// equivalents, deduped, capped at 20 (spec.md §4.6).
func mineDecisions(turns []translator.Turn) []string {
	seen := map[string]bool{}
	var out []string

	appendMatch := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, t := range turns {
		if len(out) >= 20 {
			break
		}
		for _, m := range decisionRe.FindAllStringSubmatch(t.Text, -1) {
			appendMatch(m[2])
			if len(out) >= 20 {
				break
			}
		}
		for _, m := range decisionCJKRe.FindAllStringSubmatch(t.Text, -1) {
			appendMatch(m[2])
			if len(out) >= 20 {
				break
			}
		}
	}

	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

// mineBreadcrumbs returns the last 6 messages truncated to 150 chars each
// (spec.md §4.6).
func mineBreadcrumbs(turns []translator.Turn) []string {
	start := len(turns) - 6
	if start < 0 {
		start = 0
	}

	var out []string
	for _, t := range turns[start:] {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", t.Role, truncateChars(text, 150)))
	}
	return out
}

// BuildStructuredSummary concatenates the mined sections as Markdown
// (spec.md §4.6: "Session Intent, Play-by-Play, Artifacts, Decisions,
// Recent Context").
func BuildStructuredSummary(turns []translator.Turn) string {
	var b strings.Builder

	b.WriteString("## Session Intent\n")
	if intent := firstUserIntent(turns); intent != "" {
		b.WriteString(truncateChars(intent, 300))
	} else {
		b.WriteString("(not determined)")
	}
	b.WriteString("\n\n## Play-by-Play\n")
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Role, truncateChars(text, 80))
	}

	artifacts := mineArtifacts(turns)
	b.WriteString("\n## Artifacts\n")
	if len(artifacts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range artifacts {
		fmt.Fprintf(&b, "- %s\n", a)
	}

	decisions := mineDecisions(turns)
	b.WriteString("\n## Decisions\n")
	if len(decisions) == 0 {
		b.WriteString("(none)\n")
	}
	for _, d := range decisions {
		fmt.Fprintf(&b, "- %s\n", d)
	}

	b.WriteString("\n## Recent Context\n")
	for _, crumb := range mineBreadcrumbs(turns) {
		fmt.Fprintf(&b, "- %s\n", crumb)
	}

	return b.String()
}

func firstUserIntent(turns []translator.Turn) string {
	for _, t := range turns {
		if t.Role == translator.RoleUser && strings.TrimSpace(t.Text) != "" {
			return t.Text
		}
	}
	return ""
}
