package models

// Problem is the coding problem attached to a duel. Immutable once attached.
type Problem struct {
	ID          string     `json:"id" bson:"id"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	Difficulty  string     `json:"difficulty" bson:"difficulty"`
	Category    string     `json:"category" bson:"category"`
	Examples    []Example  `json:"examples,omitempty" bson:"examples,omitempty"`
	TestCases   []TestCase `json:"testCases" bson:"testCases"`
}

// Example is a worked input/output pair shown to contestants.
type Example struct {
	Input       string `json:"input" bson:"input"`
	Output      string `json:"output" bson:"output"`
	Explanation string `json:"explanation,omitempty" bson:"explanation,omitempty"`
}

// TestCase is a single judge test case.
type TestCase struct {
	Input    string `json:"input" bson:"input"`
	Expected string `json:"expected" bson:"expected"`
	Hidden   bool   `json:"hidden,omitempty" bson:"hidden,omitempty"`
}
