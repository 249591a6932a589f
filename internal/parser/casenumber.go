// Package parser extracts case numbers and party names from free-text
// court SMS notifications.
package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Case numbers follow the（YYYY）<court code><type><seq>号 convention, e.g.
// （2024）粤0604民初1234号. Messages use half-width and full-width brackets
// interchangeably, so input is normalized to full-width before matching.
var caseNumberPattern = regexp.MustCompile(`（\d{4}）[^（）()，,。；;：:\s]{2,30}号`)

// Party labels appearing in delivery messages. The name itself is scanned
// rune by rune after the label since its end is only marked by connective
// words or punctuation.
var partyLabelPattern = regexp.MustCompile(`(原告|被告|上诉人|被上诉人|申请人|被申请人|第三人)[：:]?`)

// partyStopRunes terminate a party name: connectives and case boilerplate.
var partyStopRunes = map[rune]struct{}{
	'诉': {}, '与': {}, '及': {}, '等': {}, '系': {}, '因': {}, '已': {}, '的': {}, '案': {},
}

const maxPartyNameRunes = 6

// Delivery messages embed the document-listing link as a plain http(s) URL.
// CJK punctuation around the link is not part of it.
var referenceURLPattern = regexp.MustCompile(`https?://[^\s，。；：、"'“”（）<>]+`)

var bracketNormalizer = strings.NewReplacer("(", "（", ")", "）")

// NormalizeBrackets rewrites half-width parentheses to full-width so case
// numbers compare equal regardless of how the upstream gateway encoded them.
func NormalizeBrackets(s string) string {
	return bracketNormalizer.Replace(s)
}

// ExtractCaseNumbers returns the distinct case numbers in the text, bracket
// normalized, in order of first occurrence.
func ExtractCaseNumbers(text string) []string {
	normalized := NormalizeBrackets(text)
	matches := caseNumberPattern.FindAllString(normalized, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ExtractReferenceURL returns the first http(s) link in the text, or "" when
// the message carries none.
func ExtractReferenceURL(text string) string {
	return referenceURLPattern.FindString(text)
}

// ExtractParties returns the distinct party names in the text, in order of
// first occurrence. Labels are stripped; only names are returned.
func ExtractParties(text string) []string {
	labels := partyLabelPattern.FindAllStringIndex(text, -1)
	if len(labels) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, loc := range labels {
		name := scanPartyName(text[loc[1]:])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// scanPartyName reads a bounded run of name runes, stopping at connectives,
// punctuation, or anything outside the Han/middle-dot/latin set.
func scanPartyName(s string) string {
	var b strings.Builder
	count := 0
	for _, r := range s {
		if _, stop := partyStopRunes[r]; stop {
			break
		}
		if !isNameRune(r) || count >= maxPartyNameRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	if count < 2 {
		return ""
	}
	return b.String()
}

func isNameRune(r rune) bool {
	if r == '·' {
		return true
	}
	if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
		return true
	}
	return unicode.Is(unicode.Han, r)
}
