package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/ecgmon/internal/logging"
)

// Defaults match a local LM Studio server running TinyLlama.
const (
	DefaultOpenAIEndpoint = "http://localhost:1234/v1/chat/completions"
	DefaultOpenAIModel    = "tinyllama-1.1b-chat-v1.0"
	DefaultOllamaEndpoint = "http://localhost:11434"
)

// Provider configurations

// OpenAIConfig targets any OpenAI-compatible chat completions endpoint
// (LM Studio, llama.cpp server, vLLM, api.openai.com).
func OpenAIConfig(endpoint, model, apiKey string) *ProviderConfig {
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &ProviderConfig{
		Name:          "openai",
		Endpoint:      endpoint,
		APIKey:        apiKey,
		Model:         model,
		AuthHeader:    "Authorization",
		AuthPrefix:    "Bearer ",
		RequireKey:    strings.Contains(endpoint, "api.openai.com"),
		BuildBody:     buildOpenAIBody,
		ParseResponse: parseOpenAIResponse,
	}
}

// OllamaConfig targets Ollama's /api/chat. An empty model is auto-detected.
func OllamaConfig(endpoint, model string) *ProviderConfig {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	if model == "" {
		model = detectOllamaModel(endpoint)
	}

	return &ProviderConfig{
		Name:          "ollama",
		Endpoint:      endpoint + "/api/chat",
		Model:         model,
		AuthHeader:    "", // No auth needed
		BuildBody:     buildOllamaBody,
		ParseResponse: parseOllamaResponse,
	}
}

// detectOllamaModel queries Ollama for available models and picks one
func detectOllamaModel(endpoint string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "" // Will mark provider as unavailable
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return ""
	}

	if len(tags.Models) == 0 {
		return ""
	}

	// Prefer instruct models, they follow the output format better
	for _, m := range tags.Models {
		if strings.Contains(strings.ToLower(m.Name), "instruct") {
			logging.Info("Ollama auto-detected model", "model", m.Name)
			return m.Name
		}
	}

	logging.Info("Ollama auto-detected model", "model", tags.Models[0].Name)
	return tags.Models[0].Name
}

// Body builders

func buildOpenAIBody(cfg *ProviderConfig, req Request) map[string]any {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	body := map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func buildOllamaBody(cfg *ProviderConfig, req Request) map[string]any {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	body := map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	// Ollama uses num_predict for max tokens
	if req.MaxTokens > 0 {
		body["options"] = map[string]any{"num_predict": req.MaxTokens}
	}
	return body
}

// Response parsers

func parseOpenAIResponse(body []byte) (string, string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Model, errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, resp.Model, nil
}

func parseOllamaResponse(body []byte) (string, string, error) {
	var resp struct {
		Model   string `json:"model"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", err
	}
	return resp.Message.Content, resp.Model, nil
}
