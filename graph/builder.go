package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/hybridrag/catalog"
)

// Writer is the write side of a graph store. Nodes merge on name: merging
// an existing name adds the label if it is missing.
type Writer interface {
	MergeNode(ctx context.Context, name, label string) error
	MergeEdge(ctx context.Context, source, relation, target string) error
	Clear(ctx context.Context) error
}

var (
	recipeKeywords   = []string{"recipe", "how to make", "how to prepare"}
	categoryKeywords = []string{"dessert", "main dish", "breakfast", "lunch", "dinner"}

	// listMarkerRe splits inline ingredient lists on bullet markers.
	listMarkerRe = regexp.MustCompile(`[•\-*]`)

	ingredientsLabelRe = regexp.MustCompile(`(?i)^.*?ingredients:\s*`)
)

// minEntityLen drops fragments such as "a" or "1/".
const minEntityLen = 3

// Entities holds what one page contributes to the graph.
type Entities struct {
	Recipes     []string
	Ingredients []string
	Categories  []string
}

// Extract pulls recipes, categories and ingredients out of a page using
// keyword rules. Each list is deduplicated and keeps first-seen order.
func Extract(p catalog.Page) Entities {
	var e Entities
	seen := map[string]map[string]bool{"r": {}, "i": {}, "c": {}}
	add := func(kind string, list *[]string, name string) {
		name = strings.TrimSpace(name)
		if len([]rune(name)) < minEntityLen || seen[kind][name] {
			return
		}
		seen[kind][name] = true
		*list = append(*list, name)
	}

	for _, h := range p.Headings {
		lower := strings.ToLower(h.Text)
		switch {
		case containsAny(lower, recipeKeywords):
			add("r", &e.Recipes, h.Text)
		case containsAny(lower, categoryKeywords):
			add("c", &e.Categories, h.Text)
		}
	}

	for _, para := range p.Paragraphs {
		if !strings.Contains(strings.ToLower(para.Text), "ingredients:") {
			continue
		}
		body := ingredientsLabelRe.ReplaceAllString(para.Text, "")
		for _, item := range listMarkerRe.Split(body, -1) {
			add("i", &e.Ingredients, item)
		}
	}

	for _, li := range p.ListItems {
		add("i", &e.Ingredients, li.Text)
	}

	for _, t := range p.Tables {
		for _, row := range t.Rows {
			for _, cell := range row {
				add("i", &e.Ingredients, cell)
			}
		}
	}
	return e
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Report summarizes a graph load.
type Report struct {
	Pages       int           `json:"pages"`
	Failed      int           `json:"failed"`
	Recipes     int           `json:"recipes"`
	Ingredients int           `json:"ingredients"`
	Categories  int           `json:"categories"`
	Edges       int           `json:"edges"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Builder loads catalog pages into a graph store.
type Builder struct {
	w Writer
}

// NewBuilder creates a builder writing to w.
func NewBuilder(w Writer) *Builder {
	return &Builder{w: w}
}

// Build extracts entities page by page and merges them with their
// HAS_INGREDIENT and BELONGS_TO_CATEGORY edges. With clear set, the store
// is emptied first. A failing page is logged and skipped; Build only
// returns an error when every page failed or the context ended.
func (b *Builder) Build(ctx context.Context, pages []catalog.Page, clear bool) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if clear {
		if err := b.w.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clearing graph: %w", err)
		}
		slog.Info("graph: store cleared")
	}

	var errs []string
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ents := Extract(p)
		edges, err := b.writePage(ctx, ents)
		report.Pages++
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Sprintf("%s: %v", p.URL, err))
			slog.Warn("graph: page failed", "url", p.URL, "error", err)
			continue
		}
		report.Recipes += len(ents.Recipes)
		report.Ingredients += len(ents.Ingredients)
		report.Categories += len(ents.Categories)
		report.Edges += edges
		slog.Debug("graph: page loaded",
			"progress", fmt.Sprintf("%d/%d", i+1, len(pages)), "url", p.URL,
			"recipes", len(ents.Recipes), "ingredients", len(ents.Ingredients),
			"categories", len(ents.Categories))
	}

	report.Elapsed = time.Since(start)
	slog.Info("graph: build complete",
		"pages", report.Pages, "failed", report.Failed,
		"recipes", report.Recipes, "ingredients", report.Ingredients,
		"categories", report.Categories, "edges", report.Edges,
		"elapsed", report.Elapsed.Round(time.Millisecond))

	if len(errs) > 0 && len(errs) == len(pages) {
		return report, fmt.Errorf("graph build: all %d pages failed; first error: %s", len(pages), errs[0])
	}
	return report, nil
}

func (b *Builder) writePage(ctx context.Context, e Entities) (int, error) {
	for _, n := range e.Recipes {
		if err := b.w.MergeNode(ctx, n, LabelRecipe); err != nil {
			return 0, fmt.Errorf("merging recipe %q: %w", n, err)
		}
	}
	for _, n := range e.Categories {
		if err := b.w.MergeNode(ctx, n, LabelCategory); err != nil {
			return 0, fmt.Errorf("merging category %q: %w", n, err)
		}
	}
	for _, n := range e.Ingredients {
		if err := b.w.MergeNode(ctx, n, LabelIngredient); err != nil {
			return 0, fmt.Errorf("merging ingredient %q: %w", n, err)
		}
	}

	edges := 0
	for _, r := range e.Recipes {
		for _, i := range e.Ingredients {
			if err := b.w.MergeEdge(ctx, r, RelHasIngredient, i); err != nil {
				return edges, fmt.Errorf("linking %q to %q: %w", r, i, err)
			}
			edges++
		}
		for _, c := range e.Categories {
			if err := b.w.MergeEdge(ctx, r, RelBelongsToCategory, c); err != nil {
				return edges, fmt.Errorf("linking %q to %q: %w", r, c, err)
			}
			edges++
		}
	}
	return edges, nil
}
