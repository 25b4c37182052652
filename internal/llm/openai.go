// Package llm abstracts the text-generation transport used by the coaching
// engine. Schema-invalid model output is a normal return value here; only
// network/auth/quota failures surface as a TransportError.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Request describes a single generation call. When JSONMode is set the
// transport constrains the model to emit a JSON object; validating that
// object against the envelope contract is the caller's job.
type Request struct {
	System      string
	Prompt      string
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// Client is the generation transport consumed by the gateway.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// TransportError indicates the generation backend itself failed
// (unreachable, unauthorized, quota-exceeded). It is distinct from invalid
// output, which the gateway recovers from locally.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// OpenAIClient calls the OpenAI chat completion API. API credentials and the
// model name are loaded from environment variables.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs an OpenAI-backed transport. It reads the API
// key and model name from the environment and falls back to a sensible
// default model.
func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL_CHAT")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}
}

// Generate sends one chat completion request and returns the raw text of the
// first choice. Context deadline expiry is returned unwrapped so callers can
// treat a timed-out attempt as invalid output rather than a backend failure.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", &TransportError{Op: "generate", Err: errors.New("openai client not initialized")}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	ccr := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classify wraps upstream failures as TransportError.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{Op: fmt.Sprintf("api status %d", apiErr.HTTPStatusCode), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Op: "network", Err: err}
	}
	return &TransportError{Op: "generate", Err: err}
}
