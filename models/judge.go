package models

// TestCaseResult is the judge's verdict for one test case.
type TestCaseResult struct {
	Index           int    `json:"index"`
	Passed          bool   `json:"passed"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	MemoryMb        float64 `json:"memoryMb"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
}

// JudgeVerdict is the overall result of running code against a problem.
type JudgeVerdict struct {
	Status          string           `json:"status"` // "accepted", "wrong_answer", "runtime_error", "time_limit_exceeded", "compile_error"
	TestsPassed     int              `json:"testsPassed"`
	TotalTests      int              `json:"totalTests"`
	PerTestResults  []TestCaseResult `json:"perTestResults,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	MemoryMb        float64          `json:"memoryMb"`
	Error           string           `json:"error,omitempty"`
}

// Accepted reports whether every test passed.
func (v JudgeVerdict) Accepted() bool {
	return v.TotalTests > 0 && v.TestsPassed == v.TotalTests
}
