package page

type Op string

const (
	OpAppend Op = "append"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

// Mutation is one structural change made by the host page.
type Mutation struct {
	Op     Op     `json:"op"`
	Target string `json:"target"`
	HTML   string `json:"html,omitempty"`
}

// Batch is a group of mutations delivered together, like one observer
// callback.
type Batch []Mutation
