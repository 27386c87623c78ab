package prompt

import (
	"regexp"
	"sort"
)

// SecretKind labels the shape of a detected credential.
type SecretKind string

const (
	SecretKindProviderKey SecretKind = "provider_key"
	SecretKindAWSKey      SecretKind = "aws_key"
	SecretKindJWT         SecretKind = "jwt"
	SecretKindPrivateKey  SecretKind = "private_key"
	SecretKindDatabaseURL SecretKind = "database_url"
	SecretKindAPIKey      SecretKind = "api_key"
	SecretKindToken       SecretKind = "token"
	SecretKindPassword    SecretKind = "password"
)

// SecretMatch is one credential-shaped span found in a payload.
type SecretMatch struct {
	Kind       SecretKind
	Value      string
	Start      int
	End        int
	Confidence float64 // 0.0 to 1.0
}

// secretRule pairs a pattern with the kind and confidence of its matches.
// Rules with a capture group report only the group, so the label in front
// of the value ("password": ...) survives redaction.
type secretRule struct {
	kind       SecretKind
	confidence float64
	group      bool
	re         *regexp.Regexp
}

// Rules must match credentials as they appear inside marshaled JSON, where
// keys and values are quoted: the separator classes include the quote.
// Labeled-value rules sit below the default confidence threshold because
// CRM notes legitimately talk about passwords and tokens; unmistakable key
// formats sit above it.
var secretRules = []secretRule{
	{SecretKindPrivateKey, 1.0, false, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[^-]*-----END [A-Z ]*PRIVATE KEY-----`)},
	{SecretKindPrivateKey, 1.0, false, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{SecretKindProviderKey, 0.95, false, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-]{20,}\b`)},
	{SecretKindProviderKey, 0.85, false, regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{32,}\b`)},
	{SecretKindProviderKey, 0.95, false, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`)},
	{SecretKindAWSKey, 0.95, false, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{SecretKindJWT, 0.9, false, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`)},
	{SecretKindDatabaseURL, 0.9, false, regexp.MustCompile(`(?i)\b(?:postgresql|postgres|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`)},
	{SecretKindAPIKey, 0.8, true, regexp.MustCompile(`(?i)\bapi[_-]?key["':\s=]+["']?([A-Za-z0-9_\-]{16,})`)},
	{SecretKindToken, 0.75, true, regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-.]{20,})`)},
	{SecretKindToken, 0.65, true, regexp.MustCompile(`(?i)\b(?:access[_-]?token|refresh[_-]?token|token)["':\s=]+["']?([A-Za-z0-9_\-.]{20,})`)},
	{SecretKindPassword, 0.7, true, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)["':\s=]+["']?([^\s'",}{]{6,})`)},
}

var redactionMarkers = map[SecretKind]string{
	SecretKindProviderKey: "[PROVIDER_KEY_REDACTED]",
	SecretKindAWSKey:      "[AWS_KEY_REDACTED]",
	SecretKindJWT:         "[JWT_REDACTED]",
	SecretKindPrivateKey:  "[PRIVATE_KEY_REDACTED]",
	SecretKindDatabaseURL: "[DATABASE_URL_REDACTED]",
	SecretKindAPIKey:      "[API_KEY_REDACTED]",
	SecretKindToken:       "[TOKEN_REDACTED]",
	SecretKindPassword:    "[PASSWORD_REDACTED]",
}

// DetectSecrets scans text and returns every credential-shaped span,
// ordered by position. Overlapping matches are resolved in favor of the
// higher-confidence rule.
func DetectSecrets(text string) []SecretMatch {
	var matches []SecretMatch

	for _, rule := range secretRules {
		if rule.group {
			for _, loc := range rule.re.FindAllStringSubmatchIndex(text, -1) {
				if len(loc) < 4 || loc[2] < 0 {
					continue
				}
				matches = append(matches, SecretMatch{
					Kind:       rule.kind,
					Value:      text[loc[2]:loc[3]],
					Start:      loc[2],
					End:        loc[3],
					Confidence: rule.confidence,
				})
			}
			continue
		}

		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			matches = append(matches, SecretMatch{
				Kind:       rule.kind,
				Value:      text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Confidence: rule.confidence,
			})
		}
	}

	return dropOverlaps(matches)
}

// HasSecrets reports whether the text contains at least one match.
func HasSecrets(text string) bool {
	return len(DetectSecrets(text)) > 0
}

// RedactSecrets replaces every match at or above minConfidence with its
// kind's redaction marker.
func RedactSecrets(text string, minConfidence float64) string {
	matches := DetectSecrets(text)

	// Back to front, so earlier offsets stay valid while splicing.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if m.Confidence < minConfidence {
			continue
		}
		text = text[:m.Start] + redactionMarker(m.Kind) + text[m.End:]
	}
	return text
}

func redactionMarker(kind SecretKind) string {
	if marker, ok := redactionMarkers[kind]; ok {
		return marker
	}
	return "[SECRET_REDACTED]"
}

// dropOverlaps keeps the highest-confidence match wherever rules hit
// overlapping spans: a bearer header holding a JWT must be reported as a
// JWT, not twice. Ties go to the rule listed first.
func dropOverlaps(matches []SecretMatch) []SecretMatch {
	if len(matches) <= 1 {
		return matches
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	kept := make([]SecretMatch, 0, len(matches))
	for _, m := range matches {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
