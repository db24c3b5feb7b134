package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const systemPrompt = `You translate operator requests into a single Linux shell command.
Reply with exactly one command and nothing else. If no safe command fits, reply with an empty message.`

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPSuggester talks to an OpenAI-compatible chat completion endpoint.
// Any llama.cpp / vLLM / hosted gateway exposing /chat/completions works.
type HTTPSuggester struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

func NewHTTPSuggester(endpoint, model, apiKey string, timeout time.Duration) *HTTPSuggester {
	return &HTTPSuggester{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSuggester) Suggest(ctx context.Context, input string) (string, error) {
	reqBody := map[string]any{
		"model": s.model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: input},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create inference request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	log.Debug().Str("model", s.model).Msg("querying inference backend")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("inference backend returned %d: %s", resp.StatusCode, string(body))
	}

	var respData struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}

	if len(respData.Choices) == 0 {
		return "", fmt.Errorf("inference response has no choices")
	}

	return respData.Choices[0].Message.Content, nil
}
