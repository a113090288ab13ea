package graph

// Node labels written by the catalog graph loader.
const (
	LabelRecipe     = "Recipe"
	LabelIngredient = "Ingredient"
	LabelCategory   = "Category"
)

// Relation types written by the catalog graph loader.
const (
	RelHasIngredient     = "HAS_INGREDIENT"
	RelBelongsToCategory = "BELONGS_TO_CATEGORY"
)

// Node is a named entity with its labels, first label being the primary one.
type Node struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// PrimaryLabel returns the first label, or "Entity" for an unlabeled node.
func (n Node) PrimaryLabel() string {
	return firstLabel(n.Labels)
}

// Edge is a relationship seen from a matched node: Source is the node whose
// name matched the query and Target is its neighbor, regardless of the
// stored direction.
type Edge struct {
	Source       string   `json:"source"`
	RelationType string   `json:"relation_type"`
	Target       string   `json:"target"`
	TargetLabels []string `json:"target_labels"`
}

// TargetLabel returns the neighbor's first label, or "Entity".
func (e Edge) TargetLabel() string {
	return firstLabel(e.TargetLabels)
}

// Result is what a graph lookup returns for one entity.
type Result struct {
	DirectMatches  []Node `json:"direct_matches"`
	ConnectedNodes []Edge `json:"connected_nodes"`
}

// Empty reports whether the lookup found nothing.
func (r Result) Empty() bool {
	return len(r.DirectMatches) == 0 && len(r.ConnectedNodes) == 0
}

func firstLabel(labels []string) string {
	for _, l := range labels {
		if l != "" {
			return l
		}
	}
	return "Entity"
}
