// Package classifier adapts Chat Completions to the ChangeClassifier port.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"billtracker/internal/domain"
	openai "billtracker/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI classifies bill changes through OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.ChangeClassifier = (*OpenAI)(nil)

// NewOpenAI creates the classification provider.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type classificationPayload struct {
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	KeyChanges      []string `json:"key_changes"`
	ImpactAreas     []string `json:"impact_areas"`
	FinancialImpact bool     `json:"financial_impact"`
	TimelineImpact  string   `json:"timeline_impact"`
	CommitteeName   string   `json:"committee_name"`
	VoteDetails     string   `json:"vote_details"`
	Notes           string   `json:"notes"`
}

// Classify implements domain.ChangeClassifier.
func (o *OpenAI) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.1,
		MaxTokens:   500,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are an expert in healthcare legislation analysis, specifically for skilled nursing facilities. Provide accurate, concise classification of bill changes.",
			},
			{
				Role:    openai.RoleUser,
				Content: buildPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ClassificationResult{}, fmt.Errorf("openai completion: empty response")
	}
	content := stripFences(strings.TrimSpace(resp.Choices[0].Message.Content))
	var parsed classificationPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decode classification: %w", err)
	}
	return toResult(parsed), nil
}

func buildPrompt(req domain.ClassificationRequest) string {
	var b strings.Builder
	b.WriteString("Analyze this bill change for a skilled nursing facility (SNF) legislation tracker.\n\n")
	b.WriteString("BILL CONTEXT:\n")
	fmt.Fprintf(&b, "- Bill: %s - %s\n", req.BillNumber, req.Title)
	fmt.Fprintf(&b, "- Source: %s\n", req.Source)
	fmt.Fprintf(&b, "- Status: %s\n", req.Status)
	fmt.Fprintf(&b, "- Relevance Score: %.0f\n", req.RelevanceScore)
	if req.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", clipRunes(req.Summary, 500))
	}
	b.WriteString("\nCHANGE DETAILS:\n")
	fmt.Fprintf(&b, "- Change Summary: %s\n", req.ChangeSummary)
	fmt.Fprintf(&b, "- Significant Changes: %s\n", strings.Join(topN(req.SignificantChanges, 5), ", "))
	fmt.Fprintf(&b, "- Sections Changed: %s\n", strings.Join(topN(req.SectionsChanged, 3), ", "))
	fmt.Fprintf(&b, "- Change Percentage: %.1f%%\n", req.ChangePercentage)
	if req.OldStatus != req.NewStatus {
		fmt.Fprintf(&b, "- Status Change: %q -> %q\n", req.OldStatus, req.NewStatus)
	}
	b.WriteString(`
Classify this change and return JSON with:
1. severity: "minor", "moderate", "significant", or "critical"
2. confidence: float 0-1
3. reasoning: brief explanation
4. key_changes: list of top 3 most important changes
5. impact_areas: list of areas affected (e.g., "reimbursement", "quality", "staffing", "compliance")
6. financial_impact: boolean - affects SNF payments/costs
7. timeline_impact: "immediate", "short_term" (1-6 months), or "long_term" (6+ months)
8. committee_name: committee involved, if the status names one, else ""
9. vote_details: vote tally, if the status reports one, else ""
10. notes: anything noteworthy about the procedural context, else ""

Focus on SNF operational and financial impacts. Consider:
- Payment rate changes (CRITICAL)
- Staffing requirements (SIGNIFICANT)
- Quality measures (SIGNIFICANT)
- Compliance requirements (MODERATE-SIGNIFICANT)
- Administrative changes (MINOR-MODERATE)

Return only JSON, no other text.`)
	return b.String()
}

func toResult(p classificationPayload) domain.ClassificationResult {
	severity := domain.ChangeSeverity(strings.ToLower(strings.TrimSpace(p.Severity)))
	if severity.Rank() < 0 {
		severity = domain.SeverityModerate
	}
	urgency := domain.ImplementationUrgency(strings.ToLower(strings.TrimSpace(p.TimelineImpact)))
	switch urgency {
	case domain.UrgencyImmediate, domain.UrgencyShortTerm, domain.UrgencyLongTerm:
	default:
		urgency = domain.UrgencyLongTerm
	}
	return domain.ClassificationResult{
		Severity:        severity,
		Confidence:      clamp01(p.Confidence),
		Reasoning:       strings.TrimSpace(p.Reasoning),
		KeyChanges:      filterValues(topN(p.KeyChanges, 3)),
		ImpactAreas:     filterValues(p.ImpactAreas),
		FinancialImpact: p.FinancialImpact,
		TimelineImpact:  urgency,
		CommitteeName:   strings.TrimSpace(p.CommitteeName),
		VoteDetails:     strings.TrimSpace(p.VoteDetails),
		Notes:           strings.TrimSpace(p.Notes),
	}
}

// stripFences drops a markdown code fence if the model wrapped the JSON anyway.
func stripFences(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		return strings.TrimSpace(text)
	}
	return text
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func topN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
