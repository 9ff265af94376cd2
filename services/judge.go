package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"codeclash/config"
	"codeclash/models"
)

// HTTPJudge executes code through the external judge service. Network and
// server-side failures surface as ErrJudgeUnavailable so callers can tell
// "your code is wrong" apart from "the judge is down".
type HTTPJudge struct {
	url    string
	client *http.Client
}

// NewHTTPJudge builds the judge client from config.
func NewHTTPJudge(cfg config.JudgeConfig) *HTTPJudge {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPJudge{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

type judgeRequest struct {
	Code      string            `json:"code"`
	Language  string            `json:"language"`
	ProblemID string            `json:"problemId"`
	TestCases []models.TestCase `json:"testCases"`
}

// Run sends the code and the relevant slice of the problem's test suite to
// the judge. Non-scoring runs see only the visible cases.
func (j *HTTPJudge) Run(ctx context.Context, code, language string, problem *models.Problem, scoring bool) (*models.JudgeVerdict, error) {
	if j.url == "" {
		return nil, fmt.Errorf("%w: no judge configured", models.ErrJudgeUnavailable)
	}

	cases := problem.TestCases
	if !scoring {
		visible := make([]models.TestCase, 0, len(cases))
		for _, tc := range cases {
			if !tc.Hidden {
				visible = append(visible, tc)
			}
		}
		cases = visible
	}

	body, err := json.Marshal(judgeRequest{
		Code:      code,
		Language:  language,
		ProblemID: problem.ID,
		TestCases: cases,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: judge returned %d", models.ErrJudgeUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: judge rejected request with %d", models.ErrValidation, resp.StatusCode)
	}

	var verdict models.JudgeVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("%w: malformed judge response: %v", models.ErrJudgeUnavailable, err)
	}
	if verdict.TotalTests == 0 {
		verdict.TotalTests = len(cases)
	}
	return &verdict, nil
}
