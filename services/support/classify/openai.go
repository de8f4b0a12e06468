// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You classify messages from ride-hailing captains writing to support.
Reply with a single JSON object and nothing else:
{"intent": one of ["general","open_topic","register_document","submit_evidence","escalate_dispute","delete_account"],
 "moderation_flags": subset of ["abusive","spam","fraud_signal","self_harm","off_platform_deal"],
 "confidence": 0..1,
 "payload": optional string map of extracted parameters (dispute_id, document_type)}
Messages may be in English, Arabic, or Arabic written in Latin script.`

// OpenAIConfig configures the model-backed classifier.
type OpenAIConfig struct {
	// APIKey falls back to OPENAI_API_KEY, then the container secret.
	APIKey string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds one classification call (default: 3s). The caller's
	// context may impose a tighter deadline in reduced mode.
	Timeout time.Duration
}

// OpenAIClient classifies messages with a chat-completion model.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying SDK client is stateless.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient builds the model-backed classifier.
func NewOpenAIClient(config OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("classify: no API key in config, env, or %s", secretPath)
		}
		apiKey = strings.TrimSpace(string(raw))
	}

	model := config.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initializing classifier", "model", model, "timeout", timeout)
	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Classify sends one message to the model.
//
// # Outputs
//
//   - Result: validated classifier verdict.
//   - error: always ErrUnavailable (wrapped with the cause) on any
//     failure: timeout, transport, empty response, or JSON the pipeline
//     cannot interpret.
func (c *OpenAIClient) Classify(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userMsg := req.Text
	if req.LanguageHint != "" {
		userMsg = fmt.Sprintf("[language=%s] %s", req.LanguageHint, req.Text)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.0,
	})
	if err != nil {
		c.logger.Warn("classifier call failed", "error", err, "user_id", req.UserID)
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("classifier returned malformed verdict",
			"error", err, "user_id", req.UserID)
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

// parseResult decodes and validates the model's JSON verdict.
func parseResult(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in a fence despite JSON mode.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, fmt.Errorf("decode verdict: %w", err)
	}
	if !ValidIntent(result.Intent) {
		return Result{}, fmt.Errorf("unknown intent %q", result.Intent)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return Result{}, fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	return result, nil
}
