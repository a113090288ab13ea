// Package eval grades the engine against questions with known entities,
// expected facts and expected no-information outcomes.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/hybridrag"
)

// Asker is the part of the engine the evaluator drives.
type Asker interface {
	Ask(ctx context.Context, question string, opts ...hybridrag.AskOption) (*hybridrag.Answer, error)
}

// Evaluator runs evaluation test sets against an engine.
type Evaluator struct {
	engine        Asker
	factThreshold float64
}

// NewEvaluator creates a new evaluator. A case with expected facts passes
// when at least half of them are found.
func NewEvaluator(engine Asker) *Evaluator {
	return &Evaluator{engine: engine, factThreshold: 0.5}
}

// SetFactThreshold sets the fact recall a case needs to pass.
func (e *Evaluator) SetFactThreshold(t float64) {
	e.factThreshold = t
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across the tests that ran
// without error. Each accuracy is taken over the cases that define it.
type AggregateMetrics struct {
	EntityAccuracy float64       `json:"entity_accuracy"`
	FactRecall     float64       `json:"fact_recall"`
	NoInfoAccuracy float64       `json:"no_info_accuracy"`
	DegradedRate   float64       `json:"degraded_rate"`
	AvgLatency     time.Duration `json:"avg_latency"`
}

// TestResult holds the result of a single test case.
type TestResult struct {
	Question       string   `json:"question"`
	Category       string   `json:"category,omitempty"`
	ExpectedEntity string   `json:"expected_entity,omitempty"`
	Entity         string   `json:"entity"`
	EntityCorrect  bool     `json:"entity_correct"`
	ExpectedFacts  []string `json:"expected_facts,omitempty"`
	FactRecall     float64  `json:"fact_recall"`
	ExpectNoInfo   bool     `json:"expect_no_info"`
	NoInfo         bool     `json:"no_info"`
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources,omitempty"`
	Degraded       bool     `json:"degraded"`
	RequestID      string   `json:"request_id,omitempty"`
	Passed         bool     `json:"passed"`
	Error          string   `json:"error,omitempty"`
	ElapsedMs      int64    `json:"elapsed_ms"`
}

// tally accumulates metric numerators and denominators.
type tally struct {
	ran         int
	entityHits  int
	entityCases int
	factSum     float64
	factCases   int
	noInfoHits  int
	degraded    int
	latency     time.Duration
}

func (t *tally) add(tc TestCase, r TestResult) {
	t.ran++
	if tc.ExpectedEntity != "" {
		t.entityCases++
		if r.EntityCorrect {
			t.entityHits++
		}
	}
	if len(tc.ExpectedFacts) > 0 && !tc.ExpectNoInfo {
		t.factCases++
		t.factSum += r.FactRecall
	}
	if r.NoInfo == tc.ExpectNoInfo {
		t.noInfoHits++
	}
	if r.Degraded {
		t.degraded++
	}
	t.latency += time.Duration(r.ElapsedMs) * time.Millisecond
}

func (t *tally) metrics() AggregateMetrics {
	m := AggregateMetrics{
		EntityAccuracy: ratio(t.entityHits, t.entityCases),
		NoInfoAccuracy: ratio(t.noInfoHits, t.ran),
		DegradedRate:   ratio(t.degraded, t.ran),
	}
	if t.factCases > 0 {
		m.FactRecall = t.factSum / float64(t.factCases)
	}
	if t.ran > 0 {
		m.AvgLatency = t.latency / time.Duration(t.ran)
	}
	return m
}

// Run executes an evaluation dataset against the engine. Cases run one at
// a time so latencies are comparable.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset, opts ...hybridrag.AskOption) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	var total tally
	cats := make(map[string]*tally)

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := e.runTest(ctx, test, opts...)
		report.Results = append(report.Results, result)

		status := "PASS"
		switch {
		case result.Error != "":
			status = "ERROR"
		case !result.Passed:
			status = "FAIL"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests)),
			"status", status,
			"entity", result.Entity,
			"fact_recall", fmt.Sprintf("%.2f", result.FactRecall),
			"degraded", result.Degraded,
			"elapsed_ms", result.ElapsedMs,
			"question", truncate(test.Question, 80))

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		// Errors are excluded from averages; their zeros would only
		// depress the scores.
		if result.Error != "" {
			report.Errors++
			continue
		}

		total.add(test, result)
		if test.Category != "" {
			if cats[test.Category] == nil {
				cats[test.Category] = &tally{}
			}
			cats[test.Category].add(test, result)
		}
	}

	report.Metrics = total.metrics()
	for cat, t := range cats {
		report.CategoryMetrics[cat] = t.metrics()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase, opts ...hybridrag.AskOption) TestResult {
	result := TestResult{
		Question:       test.Question,
		Category:       test.Category,
		ExpectedEntity: test.ExpectedEntity,
		ExpectedFacts:  test.ExpectedFacts,
		ExpectNoInfo:   test.ExpectNoInfo,
	}

	start := time.Now()
	answer, err := e.engine.Ask(ctx, test.Question, opts...)
	result.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Answer = answer.Text
	result.Sources = answer.Sources
	result.Degraded = answer.Degraded
	result.RequestID = answer.RequestID
	result.Entity = answer.Entity
	result.EntityCorrect = test.ExpectedEntity == "" || EntityMatches(answer.Entity, test.ExpectedEntity)
	result.NoInfo = IsNoInfoAnswer(answer.Text)
	if len(test.ExpectedFacts) > 0 {
		result.FactRecall = FactRecall(answer.Text, test.ExpectedFacts)
	}

	factsOK := len(test.ExpectedFacts) == 0 || test.ExpectNoInfo || result.FactRecall >= e.factThreshold
	result.Passed = result.EntityCorrect && factsOK && result.NoInfo == test.ExpectNoInfo
	return result
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Errors: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed, r.Errors)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Entity Accuracy:   %.2f\n", r.Metrics.EntityAccuracy)
	fmt.Fprintf(&b, "  Fact Recall:       %.2f\n", r.Metrics.FactRecall)
	fmt.Fprintf(&b, "  No-Info Accuracy:  %.2f\n", r.Metrics.NoInfoAccuracy)
	fmt.Fprintf(&b, "  Degraded Rate:     %.2f\n", r.Metrics.DegradedRate)
	fmt.Fprintf(&b, "  Avg Latency:       %s\n\n", r.Metrics.AvgLatency.Round(time.Millisecond))

	// Per-category breakdown (sorted for deterministic output)
	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s] Ent=%.2f Facts=%.2f NoInfo=%.2f Degr=%.2f Lat=%s\n",
				cat, m.EntityAccuracy, m.FactRecall, m.NoInfoAccuracy, m.DegradedRate,
				m.AvgLatency.Round(time.Millisecond))
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.Question)
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  Entity=%q Facts=%.2f NoInfo=%v Degraded=%v  (%dms)\n",
			res.Entity, res.FactRecall, res.NoInfo, res.Degraded, res.ElapsedMs)
	}

	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
