package intent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/sirupsen/logrus"
)

const DefaultModel = "llama3.2"

type OllamaConfig struct {
	BaseURL string
	Model   string
	// Timeout of zero waits for as long as the server takes.
	Timeout time.Duration
}

// OllamaCompleter calls /api/generate with streaming disabled.
type OllamaCompleter struct {
	client *api.Client
	model  string
}

func NewOllamaCompleter(cfg OllamaConfig) (*OllamaCompleter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ollama base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	return &OllamaCompleter{
		client: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		model:  model,
	}, nil
}

// NewOllamaDecoder returns a Decoder backed by Ollama. On a configuration
// error the decoder is still usable and answers every prompt with the
// fallback payload.
func NewOllamaDecoder(cfg OllamaConfig, logger logrus.FieldLogger) (*Decoder, error) {
	completer, err := NewOllamaCompleter(cfg)
	if err != nil {
		return NewDecoder(nil, logger), err
	}
	return NewDecoder(completer, logger), nil
}

func (c *OllamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: &stream,
	}

	var out strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate model=%s: %w", c.model, err)
	}
	return out.String(), nil
}
