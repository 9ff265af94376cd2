package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"codeclash/config"
	"codeclash/models"
	"codeclash/services"
)

// Smoke test for the judge service: sends a known-good solution and prints
// the verdict. Run it against a freshly deployed judge before pointing the
// duel server at it.
func main() {
	configPath := flag.String("config", "./config/config.prod.yml", "path to config file")
	language := flag.String("language", "python", "submission language")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	judge := services.NewHTTPJudge(cfg.Judge)

	problem := &models.Problem{
		ID:          "smoke-echo",
		Title:       "Echo",
		Description: "Read a line from stdin and print it back.",
		TestCases: []models.TestCase{
			{Input: "hello", Expected: "hello"},
			{Input: "duel", Expected: "duel", Hidden: true},
		},
	}
	code := "print(input())"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	verdict, err := judge.Run(ctx, code, *language, problem, true)
	if err != nil {
		panic("judge run failed: " + err.Error())
	}

	fmt.Printf("status: %s\n", verdict.Status)
	fmt.Printf("passed: %d/%d in %dms\n", verdict.TestsPassed, verdict.TotalTests, verdict.ExecutionTimeMs)
	for _, r := range verdict.PerTestResults {
		fmt.Printf("  test %d: passed=%v\n", r.Index, r.Passed)
	}
}
