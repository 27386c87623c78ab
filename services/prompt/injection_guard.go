package prompt

import (
	"regexp"
	"sort"
)

// InjectionKind labels the style of a prompt injection attempt.
type InjectionKind string

const (
	InjectionKindInstructionOverride InjectionKind = "instruction_override"
	InjectionKindRoleManipulation    InjectionKind = "role_manipulation"
	InjectionKindSystemPromptLeak    InjectionKind = "system_prompt_leak"
	InjectionKindDelimiterAttack     InjectionKind = "delimiter_attack"
)

// InjectionMatch is one instruction-shaped span found in payload text.
type InjectionMatch struct {
	Kind  InjectionKind
	Value string
	Start int
	End   int
}

// CRM payloads carry emails and notes written outside the org, so
// instruction-shaped text does show up in real data. Matches harden the
// outbound prompt; they never reject the request.
var injectionRules = []struct {
	kind InjectionKind
	re   *regexp.Regexp
}{
	{InjectionKindInstructionOverride, regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+|any\s+)?(?:previous|prior|above|earlier)\s+(?:instructions?|prompts?|rules|commands?)`)},
	{InjectionKindInstructionOverride, regexp.MustCompile(`(?i)\boverride\s+(?:all|previous|system)\s+(?:instructions?|rules|settings)`)},
	{InjectionKindRoleManipulation, regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|the)\b`)},
	{InjectionKindRoleManipulation, regexp.MustCompile(`(?i)\b(?:pretend|act\s+as\s+if)\s+(?:to\s+be|you\s+are)\b`)},
	{InjectionKindRoleManipulation, regexp.MustCompile(`(?i)\bfrom\s+now\s+on,?\s+you\b`)},
	{InjectionKindSystemPromptLeak, regexp.MustCompile(`(?i)\b(?:show|reveal|print|repeat)\s+(?:me\s+)?(?:your|the)\s+(?:system|original|hidden)\s+(?:prompt|instructions?)`)},
	{InjectionKindDelimiterAttack, regexp.MustCompile(`(?i)<\|?(?:im_start|im_end|system|endofprompt)\|?>`)},
	{InjectionKindDelimiterAttack, regexp.MustCompile(`(?i)\[(?:system|assistant)\]`)},
}

// DetectInjection scans text and returns every instruction-shaped span,
// ordered by position.
func DetectInjection(text string) []InjectionMatch {
	var matches []InjectionMatch

	for _, rule := range injectionRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			matches = append(matches, InjectionMatch{
				Kind:  rule.kind,
				Value: text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// HasInjection reports whether the text contains at least one match.
func HasInjection(text string) bool {
	return len(DetectInjection(text)) > 0
}
