package duel

import (
	"context"
	"log"
	"math/rand"
	"time"

	"codeclash/models"

	"github.com/google/uuid"
)

// aiSnippets feed the opponent's editor pane so the human sees code appear
// over time. They are flavor; the simulated verdict decides the duel.
var aiSnippets = []string{
	"def solve():\n    pass\n",
	"def solve(nums):\n    result = []\n",
	"def solve(nums):\n    result = []\n    for n in nums:\n        result.append(n)\n",
	"def solve(nums):\n    seen = {}\n    for i, n in enumerate(nums):\n        seen[n] = i\n",
	"def solve(nums):\n    seen = {}\n    for i, n in enumerate(nums):\n        if n in seen:\n            return seen[n], i\n        seen[n] = i\n",
	"def solve(nums):\n    seen = {}\n    for i, n in enumerate(nums):\n        if n in seen:\n            return seen[n], i\n        seen[n] = i\n    return -1, -1\n",
}

// startSimulator launches the synthetic opponent for an AI duel. It ticks
// progress toward 100% over the difficulty-configured solve duration, then
// fabricates a full-pass scoring submission that flows through the same
// completion rule as a human's.
func (e *Engine) startSimulator(sessionID, aiUserID, difficulty string) {
	e.mu.Lock()
	if _, exists := e.simulators[sessionID]; exists {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.simulators[sessionID] = cancel
	e.mu.Unlock()

	duration := e.cfg.AISolveDurationFor(difficulty)
	// Jitter so back-to-back AI duels do not finish in lockstep.
	duration += solveJitter(duration)
	go e.runSimulator(ctx, sessionID, aiUserID, duration)
}

// solveJitter returns up to a fifth of the solve duration extra. Sub-second
// durations get no jitter rather than a panic from rand.Int63n(0).
func solveJitter(duration time.Duration) time.Duration {
	fifth := int64(duration / 5)
	if fifth <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(fifth))
}

// solveProgress converts elapsed time into the synthetic percentage emitted
// to the human's progress pane.
func solveProgress(start, now time.Time, duration time.Duration) float64 {
	return float64(now.Sub(start)) / float64(duration) * 100
}

func (e *Engine) runSimulator(ctx context.Context, sessionID, aiUserID string, duration time.Duration) {
	start := time.Now()
	tick := duration / 20
	if tick < time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	snippet := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pct := solveProgress(start, now, duration)
			if pct >= 100 {
				e.finishSimulator(sessionID, aiUserID)
				return
			}
			if err := e.apply(sessionID, AIProgressed{UserID: aiUserID, Percentage: pct}); err != nil {
				return
			}
			// Advance the visible editor roughly every other tick.
			if snippet < len(aiSnippets) && int(pct) > snippet*100/len(aiSnippets) {
				ev := CodeUpdated{UserID: aiUserID, Language: "python", Code: aiSnippets[snippet]}
				if err := e.apply(sessionID, ev); err != nil {
					return
				}
				snippet++
			}
		}
	}
}

// finishSimulator submits the AI's fabricated full pass. The duel may have
// already ended; a conflict here just means the human won first.
func (e *Engine) finishSimulator(sessionID, aiUserID string) {
	var total int
	err := e.store.View(sessionID, func(s *models.DuelSession) error {
		if err := requireInProgress(s); err != nil {
			return err
		}
		total = len(s.Problem.TestCases)
		return nil
	})
	if err != nil {
		return
	}

	results := make([]models.TestCaseResult, total)
	var runtime int64
	for i := range results {
		ms := int64(5 + rand.Intn(40))
		runtime += ms
		results[i] = models.TestCaseResult{
			Index:           i,
			Passed:          true,
			ExecutionTimeMs: ms,
		}
	}
	verdict := SubmissionVerdict{
		UserID:       aiUserID,
		SubmissionID: uuid.NewString(),
		Code:         aiSnippets[len(aiSnippets)-1],
		Language:     "python",
		Verdict: models.JudgeVerdict{
			Status:          "accepted",
			TestsPassed:     total,
			TotalTests:      total,
			PerTestResults:  results,
			ExecutionTimeMs: runtime,
		},
	}
	if err := e.applySubmission(sessionID, verdict); err != nil {
		log.Printf("duel %s: ai submission rejected: %v", sessionID, err)
	}
}
