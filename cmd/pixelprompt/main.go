// Command pixelprompt edits one image according to a natural-language prompt
// and writes the encoded result to stdout.
//
//	pixelprompt <image_path> <prompt_text> <output_format>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dunamismax/pixelprompt/internal/codec"
	"github.com/dunamismax/pixelprompt/internal/config"
	"github.com/dunamismax/pixelprompt/internal/intent"
	"github.com/dunamismax/pixelprompt/internal/logging"
	"github.com/dunamismax/pixelprompt/internal/pipeline"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: pixelprompt <image_path> <prompt_text> <output_format>")
		os.Exit(2)
	}
	imagePath, prompt, format := os.Args[1], os.Args[2], os.Args[3]

	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, "text", os.Stderr)

	if err := codec.Startup(); err != nil {
		logger.WithError(err).Fatal("image codec startup failed")
	}
	defer codec.Shutdown()

	src, err := os.ReadFile(imagePath)
	if err != nil {
		logger.WithError(err).WithField("path", imagePath).Error("could not read image")
		os.Exit(1)
	}

	decoder, err := intent.NewOllamaDecoder(intent.OllamaConfig{
		BaseURL: cfg.Intent.OllamaURL,
		Model:   cfg.Intent.Model,
		Timeout: cfg.Intent.Timeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("completion backend disabled, image will be returned unchanged")
	}

	processor := pipeline.NewLocalProcessor(cfg.Worker.LocalOutputDir, decoder, pipeline.WithLogger(logger))
	edited, err := processor.Edit(context.Background(), src, prompt, "", format)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrUnsupportedImage):
			logger.WithField("path", imagePath).Error("could not load image")
		default:
			logger.WithError(err).Error("edit failed")
		}
		os.Exit(1)
	}

	if _, err := os.Stdout.Write(edited.Data); err != nil {
		logger.WithError(err).Error("write output failed")
		os.Exit(1)
	}
}
