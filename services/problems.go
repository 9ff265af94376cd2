package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"codeclash/config"
	"codeclash/models"

	"github.com/google/uuid"
)

// ProblemService produces the problem attached to a duel. It asks Gemini
// for a fresh problem matching the requested difficulty, category, and
// optional theme, and falls back to the built-in bank when generation is
// unavailable or returns garbage.
type ProblemService struct {
	useGemini bool
}

// InitProblemService initializes the Gemini client from config. Without an
// API key the service serves the built-in bank only.
func InitProblemService(cfg *config.Config) *ProblemService {
	if cfg.Gemini.ApiKey == "" {
		log.Println("problem service: no Gemini API key, using built-in bank")
		return &ProblemService{}
	}
	var err error
	geminiClient, err = initGemini(cfg.Gemini.ApiKey)
	if err != nil {
		log.Printf("problem service: gemini init failed, using built-in bank: %v", err)
		return &ProblemService{}
	}
	return &ProblemService{useGemini: true}
}

// Generate returns a problem for the requested parameters.
func (ps *ProblemService) Generate(ctx context.Context, difficulty, category, theme string) (*models.Problem, error) {
	if ps.useGemini {
		problem, err := ps.generateWithGemini(ctx, difficulty, category, theme)
		if err == nil {
			return problem, nil
		}
		log.Printf("problem service: generation failed, falling back to bank: %v", err)
	}
	return ps.pickFromBank(difficulty, category)
}

func (ps *ProblemService) generateWithGemini(ctx context.Context, difficulty, category, theme string) (*models.Problem, error) {
	prompt := buildProblemPrompt(difficulty, category, theme)
	raw, err := generateDefaultModelText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var problem models.Problem
	if err := json.Unmarshal([]byte(raw), &problem); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if problem.Title == "" || problem.Description == "" || len(problem.TestCases) < 3 {
		return nil, fmt.Errorf("model returned incomplete problem (title=%q, %d test cases)", problem.Title, len(problem.TestCases))
	}

	problem.ID = uuid.NewString()
	problem.Difficulty = difficulty
	problem.Category = category
	// The tail of the test suite stays hidden so contestants cannot
	// hardcode outputs.
	for i := range problem.TestCases {
		problem.TestCases[i].Hidden = i >= len(problem.TestCases)/2
	}
	return &problem, nil
}

func buildProblemPrompt(difficulty, category, theme string) string {
	var sb strings.Builder
	sb.WriteString("Generate a competitive programming problem as a single JSON object with keys ")
	sb.WriteString(`"title", "description", "examples" (array of {"input","output","explanation"}), and "testCases" (array of {"input","expected"}).`)
	sb.WriteString(fmt.Sprintf(" Difficulty: %s. Category: %s.", difficulty, category))
	if theme != "" {
		sb.WriteString(fmt.Sprintf(" Flavor the story around the theme %q without changing the algorithmic content.", theme))
	}
	sb.WriteString(" Include at least 8 test cases covering edge cases.")
	sb.WriteString(" Inputs and outputs are plain text, one value per line.")
	sb.WriteString(" Respond with only the JSON object, no commentary.")
	return sb.String()
}

func (ps *ProblemService) pickFromBank(difficulty, category string) (*models.Problem, error) {
	var exact, byDifficulty []models.Problem
	for _, p := range problemBank {
		if p.Difficulty != difficulty {
			continue
		}
		byDifficulty = append(byDifficulty, p)
		if p.Category == category {
			exact = append(exact, p)
		}
	}
	pool := exact
	if len(pool) == 0 {
		pool = byDifficulty
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no problems for difficulty %q", models.ErrNotFound, difficulty)
	}

	chosen := pool[rand.Intn(len(pool))]
	chosen.ID = uuid.NewString()
	return &chosen, nil
}

// problemBank is the offline fallback, a handful of classics per tier.
var problemBank = []models.Problem{
	{
		Title:       "Two Sum",
		Description: "Given a list of integers and a target, output the indices of the two numbers that add up to the target. Each input has exactly one solution. The first line contains the space-separated list, the second line the target. Output the two indices in ascending order, space-separated.",
		Difficulty:  "easy",
		Category:    "arrays",
		Examples: []models.Example{
			{Input: "2 7 11 15\n9", Output: "0 1", Explanation: "2 + 7 = 9."},
		},
		TestCases: []models.TestCase{
			{Input: "2 7 11 15\n9", Expected: "0 1"},
			{Input: "3 2 4\n6", Expected: "1 2"},
			{Input: "3 3\n6", Expected: "0 1"},
			{Input: "-1 0 1 2\n1", Expected: "0 3", Hidden: true},
			{Input: "5 75 25\n100", Expected: "1 2", Hidden: true},
			{Input: "0 4 3 0\n0", Expected: "0 3", Hidden: true},
		},
	},
	{
		Title:       "Valid Parentheses",
		Description: "Given a string of brackets ()[]{}, output true if every bracket is closed in the correct order, false otherwise.",
		Difficulty:  "easy",
		Category:    "strings",
		Examples: []models.Example{
			{Input: "()[]{}", Output: "true"},
			{Input: "(]", Output: "false"},
		},
		TestCases: []models.TestCase{
			{Input: "()[]{}", Expected: "true"},
			{Input: "(]", Expected: "false"},
			{Input: "([)]", Expected: "false"},
			{Input: "{[]}", Expected: "true", Hidden: true},
			{Input: "(", Expected: "false", Hidden: true},
			{Input: "", Expected: "true", Hidden: true},
		},
	},
	{
		Title:       "Longest Substring Without Repeating Characters",
		Description: "Given a string, output the length of the longest substring without repeating characters.",
		Difficulty:  "medium",
		Category:    "strings",
		Examples: []models.Example{
			{Input: "abcabcbb", Output: "3", Explanation: "The answer is \"abc\"."},
		},
		TestCases: []models.TestCase{
			{Input: "abcabcbb", Expected: "3"},
			{Input: "bbbbb", Expected: "1"},
			{Input: "pwwkew", Expected: "3"},
			{Input: "", Expected: "0", Hidden: true},
			{Input: "au", Expected: "2", Hidden: true},
			{Input: "dvdf", Expected: "3", Hidden: true},
		},
	},
	{
		Title:       "Course Schedule",
		Description: "There are n courses labeled 0..n-1 and a list of prerequisite pairs \"a b\" meaning course a requires course b first. The first line contains n and the number of pairs; each following line is one pair. Output true if all courses can be finished, false if the prerequisites contain a cycle.",
		Difficulty:  "medium",
		Category:    "graphs",
		Examples: []models.Example{
			{Input: "2 1\n1 0", Output: "true"},
			{Input: "2 2\n1 0\n0 1", Output: "false"},
		},
		TestCases: []models.TestCase{
			{Input: "2 1\n1 0", Expected: "true"},
			{Input: "2 2\n1 0\n0 1", Expected: "false"},
			{Input: "1 0", Expected: "true"},
			{Input: "4 3\n1 0\n2 1\n3 2", Expected: "true", Hidden: true},
			{Input: "3 3\n0 1\n1 2\n2 0", Expected: "false", Hidden: true},
		},
	},
	{
		Title:       "Median of Two Sorted Arrays",
		Description: "Given two sorted integer arrays, one per line (space-separated, a line may be empty), output their combined median with one decimal place.",
		Difficulty:  "hard",
		Category:    "arrays",
		Examples: []models.Example{
			{Input: "1 3\n2", Output: "2.0"},
			{Input: "1 2\n3 4", Output: "2.5"},
		},
		TestCases: []models.TestCase{
			{Input: "1 3\n2", Expected: "2.0"},
			{Input: "1 2\n3 4", Expected: "2.5"},
			{Input: "\n1", Expected: "1.0"},
			{Input: "2\n", Expected: "2.0", Hidden: true},
			{Input: "1 2 3 4 5\n6 7 8 9 10", Expected: "5.5", Hidden: true},
		},
	},
	{
		Title:       "Word Ladder",
		Description: "Given a begin word, an end word, and a dictionary (first line: begin end; second line: space-separated dictionary), output the length of the shortest transformation sequence changing one letter at a time where every intermediate word is in the dictionary, or 0 if none exists.",
		Difficulty:  "hard",
		Category:    "graphs",
		Examples: []models.Example{
			{Input: "hit cog\nhot dot dog lot log cog", Output: "5"},
		},
		TestCases: []models.TestCase{
			{Input: "hit cog\nhot dot dog lot log cog", Expected: "5"},
			{Input: "hit cog\nhot dot dog lot log", Expected: "0"},
			{Input: "a c\na b c", Expected: "2"},
			{Input: "hot dog\nhot dog dot", Expected: "3", Hidden: true},
		},
	},
}
