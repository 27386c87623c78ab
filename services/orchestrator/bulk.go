package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services"
	"go.uber.org/zap"
)

// AnalyzeContact scores a single contact synchronously
func (o *Orchestrator) AnalyzeContact(ctx context.Context, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	return o.runOperation(ctx, models.OperationScoring, payload, opts)
}

// EnrichContact fills in missing contact fields from what is already known
func (o *Orchestrator) EnrichContact(ctx context.Context, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	return o.runOperation(ctx, models.OperationEnrichment, payload, opts)
}

// GenerateEmail drafts an outbound email for a contact
func (o *Orchestrator) GenerateEmail(ctx context.Context, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	return o.runOperation(ctx, models.OperationEmailGeneration, payload, opts)
}

// AnalyzeEmail classifies an inbound email's sentiment, intent, and urgency
func (o *Orchestrator) AnalyzeEmail(ctx context.Context, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	return o.runOperation(ctx, models.OperationEmailAnalysis, payload, opts)
}

// ContactInsights summarizes opportunities, risks, and next actions
func (o *Orchestrator) ContactInsights(ctx context.Context, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	return o.runOperation(ctx, models.OperationInsights, payload, opts)
}

func (o *Orchestrator) runOperation(ctx context.Context, op models.OperationType, payload map[string]any, opts models.RequestOptions) (*models.AIResponse, error) {
	req := &models.AIRequest{
		Operation: op,
		Payload:   payload,
		Options:   opts,
	}
	if id, ok := payload["id"].(string); ok && id != "" {
		req.Context = &models.RequestContext{SubjectID: id}
	}
	return o.ExecuteImmediate(ctx, req)
}

// AnalyzeBulk scores up to the configured maximum of subjects, in batches
// with a pause between them so a burst does not starve interactive traffic.
// One subject failing never aborts the run; failures are reported per item
// in the returned summary.
func (o *Orchestrator) AnalyzeBulk(ctx context.Context, subjects []models.BulkSubject, opts models.RequestOptions) (*models.BulkSummary, error) {
	if len(subjects) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "at least one subject is required", nil)
	}
	if len(subjects) > o.config.BulkMaxSubjects {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "too many subjects for bulk analysis", nil).
			WithDetail("max_subjects", o.config.BulkMaxSubjects).
			WithDetail("received", len(subjects))
	}

	start := o.now()
	o.logger.Info("bulk analysis started",
		zap.Int("subjects", len(subjects)),
		zap.Int("batch_size", o.config.BulkBatchSize))

	items := make([]models.BulkItemResult, len(subjects))

batches:
	for offset := 0; offset < len(subjects); offset += o.config.BulkBatchSize {
		if ctx.Err() != nil {
			o.markRemaining(items, subjects, offset, ctx.Err())
			break
		}

		end := offset + o.config.BulkBatchSize
		if end > len(subjects) {
			end = len(subjects)
		}

		var wg sync.WaitGroup
		for i := offset; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				items[idx] = o.analyzeSubject(ctx, subjects[idx], opts)
			}(i)
		}
		wg.Wait()

		if end < len(subjects) && o.config.BulkBatchDelay > 0 {
			select {
			case <-ctx.Done():
				o.markRemaining(items, subjects, end, ctx.Err())
				break batches
			case <-time.After(o.config.BulkBatchDelay):
			}
		}
	}

	summary := o.summarize(items, start)
	o.logger.Info("bulk analysis finished",
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int64("processing_time_ms", summary.ProcessingTimeMs))
	return summary, nil
}

func (o *Orchestrator) analyzeSubject(ctx context.Context, subject models.BulkSubject, opts models.RequestOptions) models.BulkItemResult {
	req := &models.AIRequest{
		Operation: models.OperationScoring,
		Payload:   subject.Payload,
		Context:   &models.RequestContext{SubjectID: subject.ID},
		Options:   opts,
	}

	resp, err := o.ExecuteImmediate(ctx, req)
	if err != nil {
		return models.BulkItemResult{
			SubjectID: subject.ID,
			Error:     err.Error(),
			ErrorCode: services.ErrorCode(err),
		}
	}
	return models.BulkItemResult{SubjectID: subject.ID, Response: resp}
}

// markRemaining fails every unprocessed item after a context cancellation
func (o *Orchestrator) markRemaining(items []models.BulkItemResult, subjects []models.BulkSubject, from int, cause error) {
	for i := from; i < len(items); i++ {
		items[i] = models.BulkItemResult{
			SubjectID: subjects[i].ID,
			Error:     "bulk analysis interrupted: " + cause.Error(),
			ErrorCode: services.ErrorCode(cause),
		}
	}
}

func (o *Orchestrator) summarize(items []models.BulkItemResult, start time.Time) *models.BulkSummary {
	summary := &models.BulkSummary{
		Total: len(items),
		Items: items,
	}

	var scoreSum float64
	var scored int
	for _, item := range items {
		if item.Response == nil {
			summary.Failed++
			continue
		}
		summary.Successful++
		// Degraded responses carry neutral fallback scores, not model
		// output, so they must not pull the average toward 50.
		if item.Response.Metadata.Degraded {
			summary.Degraded++
			continue
		}
		if score, ok := scoreOf(item.Response); ok {
			scoreSum += score
			scored++
		}
	}
	if scored > 0 {
		summary.AverageScore = scoreSum / float64(scored)
	}

	summary.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
	return summary
}

// scoreOf extracts the score from a scoring result. Fresh results are the
// typed struct; results rehydrated from a cache snapshot decode as a map.
func scoreOf(resp *models.AIResponse) (float64, bool) {
	switch result := resp.Result.(type) {
	case *models.ScoringResult:
		return float64(result.Score), true
	case map[string]any:
		if v, ok := result["score"].(float64); ok {
			return v, true
		}
	}
	return 0, false
}
