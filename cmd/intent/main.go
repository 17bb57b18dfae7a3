// Command intent prints the operations payload the completion service
// returns for a prompt, without touching any image.
//
//	intent <prompt_text> [history_json]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dunamismax/pixelprompt/internal/config"
	"github.com/dunamismax/pixelprompt/internal/intent"
	"github.com/dunamismax/pixelprompt/internal/logging"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: intent <prompt_text> [history_json]")
		os.Exit(2)
	}
	prompt := os.Args[1]
	history := ""
	if len(os.Args) == 3 {
		history = os.Args[2]
	}

	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, "text", os.Stderr)

	decoder, err := intent.NewOllamaDecoder(intent.OllamaConfig{
		BaseURL: cfg.Intent.OllamaURL,
		Model:   cfg.Intent.Model,
		Timeout: cfg.Intent.Timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("completion backend disabled")
	}

	fmt.Println(decoder.Query(context.Background(), prompt, history))
}
