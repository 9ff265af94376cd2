package services

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Flash keeps problem generation inside the matchmaking latency budget;
// duels block on it before the first seat sees a board.
const defaultGeminiModel = "gemini-2.5-flash"

// Shared Gemini client. Set once by InitProblemService; nil means the
// problem bank serves everything.
var geminiClient *genai.Client

func initGemini(apiKey string) (*genai.Client, error) {
	config := &genai.ClientConfig{}
	if apiKey != "" {
		config.APIKey = apiKey
	}
	return genai.NewClient(context.Background(), config)
}

// generateModelText runs one prompt and returns the model's text with any
// markdown fencing stripped, ready for json.Unmarshal into a problem.
func generateModelText(ctx context.Context, modelName, prompt string) (string, error) {
	if geminiClient == nil {
		return "", errors.New("gemini client not initialized")
	}
	resp, err := geminiClient.Models.GenerateContent(ctx, modelName, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return cleanModelOutput(resp.Text()), nil
}

// cleanModelOutput strips the ```json fences the model wraps around its
// output even when the prompt asks for raw JSON.
func cleanModelOutput(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func generateDefaultModelText(ctx context.Context, prompt string) (string, error) {
	return generateModelText(ctx, defaultGeminiModel, prompt)
}
