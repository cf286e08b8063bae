// Package diff compares point-in-time bill snapshots and produces the
// structured change signal the rest of the pipeline consumes.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"

	"billtracker/internal/domain"
)

const keywordContextSize = 50

// significantKeywords is the fixed vocabulary of domain-weighted terms whose
// occurrence deltas mark a change as substantive.
var significantKeywords = []string{
	// financial terms
	"reimbursement", "payment", "rate", "funding", "cost", "budget",
	"appropriation", "fee", "penalty", "fine", "tax", "credit",

	// policy terms
	"requirement", "mandate", "prohibition", "restriction", "eligibility",
	"certification", "qualification", "standard", "criteria", "threshold",

	// healthcare specific
	"medicare", "medicaid", "snf", "skilled nursing", "long-term care",
	"quality", "safety", "inspection", "survey", "compliance",

	// legislative process
	"effective date", "implementation", "deadline", "timeline", "phase",
	"shall", "must", "required", "prohibited", "authorized",
}

var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)SECTION\s+\d+`),
	regexp.MustCompile(`(?i)SEC\.\s+\d+`),
	regexp.MustCompile(`(?i)Title\s+[IVX]+`),
	regexp.MustCompile(`(?i)Chapter\s+\d+`),
	regexp.MustCompile(`(?i)Part\s+[A-Z]+\b`),
	regexp.MustCompile(`(?i)Subpart\s+[A-Z]+\b`),
}

// Engine compares snapshots and single fields.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine creates a diff engine.
func NewEngine() *Engine {
	return &Engine{dmp: diffmatchpatch.New()}
}

// NewSnapshot captures the current state of a bill. The checksum covers every
// compared field, so equal checksums imply an unchanged bill.
func NewSnapshot(bill domain.Bill, at time.Time) domain.BillSnapshot {
	content := strings.Join([]string{
		bill.Title, bill.Summary, bill.FullText, bill.Status, bill.Sponsor, bill.Committee,
	}, "\n")
	sum := sha256.Sum256([]byte(content))
	return domain.BillSnapshot{
		BillID:     bill.ID,
		CapturedAt: at.UTC(),
		Title:      bill.Title,
		Summary:    bill.Summary,
		FullText:   bill.FullText,
		Status:     bill.Status,
		Sponsor:    bill.Sponsor,
		Committee:  bill.Committee,
		Checksum:   hex.EncodeToString(sum[:]),
	}
}

// Compare produces the full diff analysis between two snapshots of one bill.
// Equal checksums short-circuit to a no-change result.
func (e *Engine) Compare(old, new domain.BillSnapshot) domain.DiffResult {
	if old.Checksum == new.Checksum {
		return domain.DiffResult{
			HasChanges:      false,
			SimilarityRatio: 1.0,
			Summary:         "No changes detected",
		}
	}
	return e.CompareText(combineText(old), combineText(new))
}

// CompareText compares two raw text blobs.
func (e *Engine) CompareText(oldText, newText string) domain.DiffResult {
	ratio := e.similarity(oldText, newText)
	changePct := (1 - ratio) * 100

	wordDelta := len(strings.Fields(newText)) - len(strings.Fields(oldText))
	lineDelta := strings.Count(newText, "\n") - strings.Count(oldText, "\n")

	unified, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "previous_version",
		ToFile:   "current_version",
		Context:  3,
	})

	sections := changedSections(oldText, newText)
	significant := e.significantChanges(oldText, newText)
	minor := minorChanges(oldText, newText)

	return domain.DiffResult{
		HasChanges:         true,
		SimilarityRatio:    ratio,
		ChangePercentage:   changePct,
		WordCountDelta:     wordDelta,
		LineCountDelta:     lineDelta,
		UnifiedDiff:        unified,
		Summary:            changeSummary(ratio, sections, significant, minor),
		SectionsChanged:    sections,
		SignificantChanges: significant,
		MinorChanges:       minor,
	}
}

// CompareField classifies how one named snapshot field changed.
func (e *Engine) CompareField(oldValue, newValue, field string) domain.FieldDiff {
	if oldValue == newValue {
		return domain.FieldDiff{Field: field, ChangeType: domain.FieldChangeNone, OldValue: oldValue, NewValue: newValue}
	}

	fd := domain.FieldDiff{Field: field, Changed: true, OldValue: oldValue, NewValue: newValue}
	switch {
	case oldValue == "":
		fd.ChangeType = domain.FieldChangeAddition
		fd.Diff = fmt.Sprintf("[ADDED: %s]", newValue)
	case newValue == "":
		fd.ChangeType = domain.FieldChangeRemoval
		fd.Diff = fmt.Sprintf("[REMOVED: %s]", oldValue)
	default:
		fd.ChangeType = domain.FieldChangeModification
		fd.Similarity = e.similarity(oldValue, newValue)
		fd.Diff = fmt.Sprintf("[CHANGED: %s -> %s]", oldValue, newValue)
	}
	return fd
}

// Significance buckets a diff by pure counting rules. Used when no external
// classifier is wired in.
func Significance(d domain.DiffResult) domain.ChangeSeverity {
	if !d.HasChanges {
		return domain.SeverityMinor
	}
	switch {
	case len(d.SignificantChanges) > 5 || d.ChangePercentage > 50 || len(d.SectionsChanged) > 3:
		return domain.SeverityCritical
	case len(d.SignificantChanges) > 2 || d.ChangePercentage > 25 || len(d.SectionsChanged) > 1:
		return domain.SeveritySignificant
	case len(d.SignificantChanges) > 0 || d.ChangePercentage > 10 || abs(d.WordCountDelta) > 100:
		return domain.SeverityModerate
	default:
		return domain.SeverityMinor
	}
}

// similarity is the classic sequence-matcher ratio: twice the matched length
// over the total length of both inputs.
func (e *Engine) similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	matched := 0
	for _, d := range e.dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += len(d.Text)
		}
	}
	return float64(2*matched) / float64(total)
}

func combineText(s domain.BillSnapshot) string {
	return fmt.Sprintf("TITLE: %s\n\nSUMMARY: %s\n\nFULL TEXT:\n%s\n\nSTATUS: %s\nSPONSOR: %s\nCOMMITTEE: %s",
		s.Title, s.Summary, s.FullText, s.Status, s.Sponsor, s.Committee)
}

// changedSections set-differences the structural markers of both texts.
func changedSections(oldText, newText string) []string {
	var out []string
	for _, pat := range sectionPatterns {
		oldSet := toSet(pat.FindAllString(oldText, -1))
		newSet := toSet(pat.FindAllString(newText, -1))

		for sec := range newSet {
			if _, ok := oldSet[sec]; !ok {
				out = append(out, "Added: "+sec)
			}
		}
		for sec := range oldSet {
			if _, ok := newSet[sec]; !ok {
				out = append(out, "Removed: "+sec)
			}
		}
	}
	sort.Strings(out)
	return out
}

// significantChanges compares per-keyword occurrence counts and context
// windows between the two texts.
func (e *Engine) significantChanges(oldText, newText string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(msg string) {
		if _, ok := seen[msg]; !ok {
			seen[msg] = struct{}{}
			out = append(out, msg)
		}
	}

	for _, keyword := range significantKeywords {
		oldCtx := keywordContexts(oldText, keyword)
		newCtx := keywordContexts(newText, keyword)

		if len(oldCtx) != len(newCtx) {
			if len(newCtx) > len(oldCtx) {
				add(fmt.Sprintf("Added references to %q (%d new)", keyword, len(newCtx)-len(oldCtx)))
			} else {
				add(fmt.Sprintf("Removed references to %q (%d removed)", keyword, len(oldCtx)-len(newCtx)))
			}
		}
		for i := 0; i < len(oldCtx) && i < len(newCtx); i++ {
			if oldCtx[i] != newCtx[i] {
				add(fmt.Sprintf("Modified content around %q", keyword))
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// minorChanges collects short changed lines that are mostly punctuation,
// whitespace, or single small tokens. Capped to keep summaries readable.
func minorChanges(oldText, newText string) []string {
	matcher := difflib.NewMatcher(difflib.SplitLines(oldText), difflib.SplitLines(newText))
	oldLines := difflib.SplitLines(oldText)
	newLines := difflib.SplitLines(newText)

	var out []string
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		lines := append(append([]string{}, oldLines[op.I1:op.I2]...), newLines[op.J1:op.J2]...)
		for _, line := range lines {
			text := strings.TrimSpace(line)
			if text == "" || !isMinorChange(text) {
				continue
			}
			if len(text) > 100 {
				text = text[:100] + "..."
			}
			out = append(out, text)
			if len(out) >= 10 {
				return out
			}
		}
	}
	return out
}

func isMinorChange(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 {
		return true
	}
	alpha := 0
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if float64(alpha) < float64(len(trimmed))*0.3 {
		return true
	}
	words := strings.Fields(trimmed)
	return len(words) == 1 && len(words[0]) < 10
}

func keywordContexts(text, keyword string) []string {
	var contexts []string
	lower := strings.ToLower(text)
	kw := strings.ToLower(keyword)

	start := 0
	for {
		pos := strings.Index(lower[start:], kw)
		if pos < 0 {
			break
		}
		pos += start
		from := pos - keywordContextSize
		if from < 0 {
			from = 0
		}
		to := pos + len(kw) + keywordContextSize
		if to > len(text) {
			to = len(text)
		}
		contexts = append(contexts, strings.TrimSpace(text[from:to]))
		start = pos + 1
	}
	return contexts
}

func changeSummary(ratio float64, sections, significant, minor []string) string {
	parts := []string{fmt.Sprintf("Overall similarity: %.1f%% (%.1f%% changed)", ratio*100, (1-ratio)*100)}
	if len(sections) > 0 {
		parts = append(parts, fmt.Sprintf("Structural changes: %d sections affected", len(sections)))
	}
	if len(significant) > 0 {
		parts = append(parts, fmt.Sprintf("Significant changes: %d policy-relevant modifications", len(significant)))
	}
	if len(minor) > 0 {
		parts = append(parts, fmt.Sprintf("Minor changes: %d small text modifications", len(minor)))
	}
	return strings.Join(parts, ". ") + "."
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToUpper(v)] = struct{}{}
	}
	return set
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
