package normalize

import (
	"encoding/json"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

// Config holds normalization settings
type Config struct {
	// DegradedConfidence is the fixed confidence stamped on results that
	// fell back to operation defaults. Kept low so dashboards and callers
	// can filter them out.
	DegradedConfidence int
}

// DefaultConfig returns the default normalization settings
func DefaultConfig() Config {
	return Config{
		DegradedConfidence: 25,
	}
}

// Outcome is a fully normalized provider reply. Normalization never fails:
// a reply that cannot be structured decays to the operation's neutral
// default with Degraded set.
type Outcome struct {
	Result     any
	Encoding   models.ResultEncoding
	Confidence int
	Degraded   bool
	Note       string
}

// Normalizer turns raw provider replies into typed operation results
type Normalizer struct {
	config Config
	logger *zap.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(config Config, logger *zap.Logger) *Normalizer {
	if config.DegradedConfidence <= 0 {
		config.DegradedConfidence = DefaultConfig().DegradedConfidence
	}
	return &Normalizer{
		config: config,
		logger: logger,
	}
}

// Normalize decodes a reply into the operation's typed result. Function-call
// arguments are parsed directly; text replies go through JSON extraction
// with a code-fence retry; anything else degrades to the operation default.
func (n *Normalizer) Normalize(op models.OperationType, reply *providers.Reply) *Outcome {
	if reply == nil {
		return n.degraded(op, "provider returned no reply")
	}

	if reply.Kind == providers.ReplyFunctionCall {
		if outcome, ok := n.decode(op, reply.FunctionArgs, models.EncodingFunctionCall); ok {
			return outcome
		}
		n.logger.Warn("function call arguments did not match the operation shape",
			zap.String("operation", string(op)),
			zap.String("function", reply.FunctionName))
		return n.degraded(op, "function call arguments were not valid for this operation")
	}

	raw, ok := extractJSON(reply.Text)
	if !ok {
		raw, ok = extractJSON(stripFences(reply.Text))
	}
	if ok {
		if outcome, decoded := n.decode(op, raw, models.EncodingTextJSON); decoded {
			return outcome
		}
	}

	n.logger.Warn("reply text did not contain a decodable JSON object",
		zap.String("operation", string(op)),
		zap.Int("text_length", len(reply.Text)))
	return n.degraded(op, "provider answered in free text; returning neutral defaults")
}

func (n *Normalizer) decode(op models.OperationType, raw json.RawMessage, encoding models.ResultEncoding) (*Outcome, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	result := models.NewResultFor(op)
	if err := json.Unmarshal(raw, result); err != nil {
		// Models occasionally send 87.5 where the contract says integer.
		// One retry with fractional fields rounded keeps those structured.
		rounded := roundIntegerFields(raw)
		result = models.NewResultFor(op)
		if err := json.Unmarshal(rounded, result); err != nil {
			return nil, false
		}
		raw = rounded
	}
	clampResult(result)

	confidence := 0
	var probe struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Confidence != nil {
		confidence = clamp(int(math.Round(*probe.Confidence)))
	}

	return &Outcome{
		Result:     result,
		Encoding:   encoding,
		Confidence: confidence,
	}, true
}

func (n *Normalizer) degraded(op models.OperationType, note string) *Outcome {
	return &Outcome{
		Result:     models.DefaultResultFor(op),
		Encoding:   models.EncodingTextPlain,
		Confidence: n.config.DegradedConfidence,
		Degraded:   true,
		Note:       note,
	}
}

// extractJSON pulls the first-{-to-last-} substring out of a text reply and
// keeps it only if it is valid JSON.
func extractJSON(text string) (json.RawMessage, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

// stripFences removes a Markdown code fence wrapper so the brace scan can
// run again on the inner text.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// integerFields are the contract fields typed as integers in the result
// shapes. Top-level only; no contract nests them deeper.
var integerFields = map[string]bool{
	"confidence":         true,
	"score":              true,
	"influence_score":    true,
	"time_to_close_days": true,
}

// roundIntegerFields rounds fractional values sitting in integer contract
// fields so the typed decode can succeed.
func roundIntegerFields(raw json.RawMessage) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}

	changed := false
	for k, v := range m {
		if !integerFields[k] {
			continue
		}
		if f, ok := v.(float64); ok && f != math.Trunc(f) {
			m[k] = math.Round(f)
			changed = true
		}
	}
	if !changed {
		return raw
	}

	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}

// clampResult bounds the score-like fields of a decoded result to 0-100
func clampResult(result any) {
	switch r := result.(type) {
	case *models.ScoringResult:
		r.Score = clamp(r.Score)
		r.Confidence = clamp(r.Confidence)
	case *models.EnrichmentResult:
		r.Confidence = clamp(r.Confidence)
	case *models.EmailDraft:
		r.Confidence = clamp(r.Confidence)
	case *models.EmailAnalysis:
		r.Confidence = clamp(r.Confidence)
	case *models.InsightsResult:
		r.Confidence = clamp(r.Confidence)
	case *models.CommunicationAnalysis:
		r.Confidence = clamp(r.Confidence)
	case *models.AutomationSuggestions:
		r.Confidence = clamp(r.Confidence)
	case *models.PredictiveAnalytics:
		r.Confidence = clamp(r.Confidence)
	case *models.RelationshipMap:
		r.InfluenceScore = clamp(r.InfluenceScore)
		r.Confidence = clamp(r.Confidence)
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
