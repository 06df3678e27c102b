package provider

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// HFClient talks to the Hugging Face inference router through its
// OpenAI-compatible surface.
type HFClient struct {
	client *openai.Client
}

// NewHFClient builds a client for the given credential and base URL.
func NewHFClient(token, baseURL string) *HFClient {
	config := openai.DefaultConfig(token)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &HFClient{client: openai.NewClientWithConfig(config)}
}

// Probe checks that a model is deployed and reachable. A model metadata
// lookup is enough; no tokens are generated.
func (c *HFClient) Probe(ctx context.Context, model string) error {
	if _, err := c.client.GetModel(ctx, model); err != nil {
		return fmt.Errorf("probe model %s: %w", model, err)
	}
	return nil
}

func (c *HFClient) Chat(ctx context.Context, model string, messages []Message, opts Options) (ChatResult, error) {
	resp, err := c.client.CreateChatCompletion(ctx, chatRequest(model, messages, opts, false))
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{Raw: resp}, fmt.Errorf("chat completion: response contained no choices")
	}

	msg := resp.Choices[0].Message
	return ChatResult{
		Content:          msg.Content,
		ReasoningContent: msg.ReasoningContent,
		Raw:              resp,
	}, nil
}

func (c *HFClient) ChatStream(ctx context.Context, model string, messages []Message, opts Options) (Stream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, chatRequest(model, messages, opts, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	return &chatStream{inner: stream}, nil
}

func (c *HFClient) Complete(ctx context.Context, model, prompt string, opts Options) (string, error) {
	resp, err := c.client.CreateCompletion(ctx, completionRequest(model, prompt, opts, false))
	if err != nil {
		return "", fmt.Errorf("text completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("text completion: response contained no choices")
	}
	return resp.Choices[0].Text, nil
}

func (c *HFClient) CompleteStream(ctx context.Context, model, prompt string, opts Options) (Stream, error) {
	stream, err := c.client.CreateCompletionStream(ctx, completionRequest(model, prompt, opts, true))
	if err != nil {
		return nil, fmt.Errorf("text completion stream: %w", err)
	}
	return &completionStream{inner: stream}, nil
}

func chatRequest(model string, messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    oaMsgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
		Stream:      stream,
	}
}

func completionRequest(model, prompt string, opts Options, stream bool) openai.CompletionRequest {
	return openai.CompletionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
		Stream:      stream,
	}
}

type chatStream struct {
	inner *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (Fragment, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		return Fragment{}, err
	}
	if len(resp.Choices) == 0 {
		return Fragment{}, nil
	}
	delta := resp.Choices[0].Delta
	return Fragment{Content: delta.Content, ReasoningContent: delta.ReasoningContent}, nil
}

func (s *chatStream) Close() error {
	return s.inner.Close()
}

type completionStream struct {
	inner *openai.CompletionStream
}

func (s *completionStream) Recv() (Fragment, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		return Fragment{}, err
	}
	if len(resp.Choices) == 0 {
		return Fragment{}, nil
	}
	return Fragment{Content: resp.Choices[0].Text}, nil
}

func (s *completionStream) Close() error {
	return s.inner.Close()
}
