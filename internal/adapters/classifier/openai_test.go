package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"billtracker/internal/domain"
	openai "billtracker/internal/infra/openai"
)

type stubChat struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}},
	}, nil
}

func testRequest() domain.ClassificationRequest {
	return domain.ClassificationRequest{
		BillNumber:       "HR 5001",
		Title:            "SNF Payment Reform Act",
		Source:           "congress",
		Status:           "Referred to Committee",
		RelevanceScore:   80,
		ChangeSummary:    "Minor changes: 2 additions",
		ChangePercentage: 4.2,
		OldStatus:        "Introduced",
		NewStatus:        "Referred to Committee",
	}
}

func TestClassifyParsesResponse(t *testing.T) {
	chat := &stubChat{content: `{
		"severity": "significant",
		"confidence": 0.85,
		"reasoning": "Payment rate language changed",
		"key_changes": ["rate update", "", "effective date", "extra", "overflow"],
		"impact_areas": ["reimbursement"],
		"financial_impact": true,
		"timeline_impact": "short_term",
		"committee_name": "Ways and Means",
		"vote_details": "",
		"notes": ""
	}`}
	got, err := NewOpenAI(chat, "", 0).Classify(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Severity != domain.SeveritySignificant {
		t.Errorf("Severity = %q, want significant", got.Severity)
	}
	if got.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", got.Confidence)
	}
	if len(got.KeyChanges) != 3 {
		t.Errorf("KeyChanges = %v, want top 3 non-empty", got.KeyChanges)
	}
	if !got.FinancialImpact || got.TimelineImpact != domain.UrgencyShortTerm {
		t.Errorf("impact fields = %+v", got)
	}
	if got.CommitteeName != "Ways and Means" {
		t.Errorf("CommitteeName = %q", got.CommitteeName)
	}
	if chat.lastReq.ResponseFormat == nil || chat.lastReq.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Error("request must ask for a JSON object response")
	}
	if !strings.Contains(chat.lastReq.Messages[1].Content, "HR 5001") {
		t.Error("prompt must carry the bill number")
	}
}

func TestClassifyStripsMarkdownFences(t *testing.T) {
	chat := &stubChat{content: "```json\n{\"severity\": \"critical\", \"confidence\": 1.4}\n```"}
	got, err := NewOpenAI(chat, "gpt-4o-mini", time.Second).Classify(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %q, want critical", got.Severity)
	}
	if got.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", got.Confidence)
	}
}

func TestClassifyUnknownSeverityFallsBackToModerate(t *testing.T) {
	chat := &stubChat{content: `{"severity": "catastrophic", "confidence": 0.9}`}
	got, err := NewOpenAI(chat, "", 0).Classify(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Severity != domain.SeverityModerate {
		t.Errorf("Severity = %q, want moderate", got.Severity)
	}
	if got.TimelineImpact != domain.UrgencyLongTerm {
		t.Errorf("TimelineImpact = %q, want long_term default", got.TimelineImpact)
	}
}

func TestClassifyPropagatesTransportError(t *testing.T) {
	chat := &stubChat{err: errors.New("rate limited")}
	if _, err := NewOpenAI(chat, "", 0).Classify(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error from transport failure")
	}
}
