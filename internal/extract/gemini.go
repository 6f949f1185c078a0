package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GeminiConfig configures the Generative Language REST backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Gemini calls models/{model}:generateContent.
type Gemini struct {
	cfg        GeminiConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGemini creates a Gemini extraction client.
func NewGemini(cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing GEMINI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gemini{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Extract sends the donation prompt and returns the concatenated candidate text.
func (g *Gemini) Extract(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: Prompt(message)}},
		}},
		GenerationConfig: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Model), url.QueryEscape(g.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", unavailable("gemini request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Debug("failed to close gemini response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", unavailable("read gemini response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", unavailable("gemini status %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", unavailable("decode gemini envelope: %v", err)
	}
	if parsed.PromptFeedback.BlockReason != "" {
		g.logger.Warn("Gemini blocked prompt", "reason", parsed.PromptFeedback.BlockReason)
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	g.logger.Debug("Gemini extraction complete",
		"model", g.cfg.Model,
		"duration", time.Since(start),
		"response_length", text.Len(),
	)
	return text.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
