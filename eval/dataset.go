package eval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Test case categories used by the built-in dataset.
const (
	CategoryQuoted      = "quoted-entity"
	CategoryPreposition = "preposition-entity"
	CategoryFreeText    = "free-text"
	CategoryNoInfo      = "no-info"
)

// Dataset is a collection of test cases for evaluation.
type Dataset struct {
	Name  string     `json:"name"`
	Tests []TestCase `json:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question string `json:"question"`

	// ExpectedEntity is compared case-insensitively with the extracted
	// entity. Empty skips the check.
	ExpectedEntity string `json:"expected_entity,omitempty"`

	// ExpectedFacts should appear in the answer. Each fact may hold
	// pipe-separated alternatives ("cocoa|cacao").
	ExpectedFacts []string `json:"expected_facts,omitempty"`

	// ExpectNoInfo marks questions the catalog cannot answer.
	ExpectNoInfo bool   `json:"expect_no_info,omitempty"`
	Category     string `json:"category,omitempty"`
}

// DefaultDataset returns the built-in catalog questions.
func DefaultDataset() Dataset {
	return Dataset{
		Name: "Catalog - Built-in",
		Tests: []TestCase{
			{
				Question:       "Tell me about 'KitKat'",
				ExpectedEntity: "KitKat",
				ExpectedFacts:  []string{"kitkat", "wafer"},
				Category:       CategoryQuoted,
			},
			{
				Question:       `Do you have a recipe for "Tres Leches"?`,
				ExpectedEntity: "Tres Leches",
				ExpectedFacts:  []string{"milk|leche"},
				Category:       CategoryQuoted,
			},
			{
				Question:       "What is in Chocolate Cake?",
				ExpectedEntity: "Chocolate Cake",
				ExpectedFacts:  []string{"cocoa|cacao|chocolate"},
				Category:       CategoryPreposition,
			},
			{
				Question:       "What are the ingredients of Banana Bread?",
				ExpectedEntity: "Banana Bread",
				ExpectedFacts:  []string{"banana", "flour"},
				Category:       CategoryPreposition,
			},
			{
				Question:      "which desserts use nesquik?",
				ExpectedFacts: []string{"nesquik"},
				Category:      CategoryFreeText,
			},
			{
				Question:       "Tell me about 'Zyxwvut Gadget 9000'",
				ExpectedEntity: "Zyxwvut Gadget 9000",
				ExpectNoInfo:   true,
				Category:       CategoryNoInfo,
			},
		},
	}
}

// LoadDataset reads a dataset file. The file holds either a bare JSON
// array of test cases or an object with "name" and "tests".
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}

	var ds Dataset
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &ds.Tests); err != nil {
			return Dataset{}, fmt.Errorf("decoding dataset %s: %w", filepath.Base(path), err)
		}
	} else if err := json.Unmarshal(trimmed, &ds); err != nil {
		return Dataset{}, fmt.Errorf("decoding dataset %s: %w", filepath.Base(path), err)
	}

	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, tc := range ds.Tests {
		if strings.TrimSpace(tc.Question) == "" {
			return Dataset{}, fmt.Errorf("dataset %s: test %d has an empty question", ds.Name, i+1)
		}
	}
	return ds, nil
}
