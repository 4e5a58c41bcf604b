// Package llm wraps the chat-completion API used to turn questions into search queries and to answer them
// from fetched sources.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/extract"
)

const (
	defaultModel           = "gpt-4o"
	defaultMaxSourceChars  = 9000
	defaultReasoningEffort = "medium"

	// Reasoning models spend completion tokens on hidden reasoning before the visible answer.
	reasoningTokenFactor = 8

	searchTermPrompt = "You are a search query optimizer. Convert the user's question into an effective Google search " +
		"query. Return only the search query, nothing else."
	answerPrompt = "You are a helpful assistant that answers questions based on provided reference content. " +
		"Always cite your sources when answering."
)

var (
	// ErrMissingAPIKey is returned by New without credentials.
	ErrMissingAPIKey = errors.New("llm api key is required")
	// ErrInvalidEffort reports a reasoning effort outside minimal, low, medium and high.
	ErrInvalidEffort = errors.New("reasoning effort must be one of minimal, low, medium, high")
)

// Config selects the endpoint and model.
type Config struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint. Ignored when AzureEndpoint is set.
	BaseURL string
	// AzureEndpoint switches the client to Azure OpenAI; Model is then the deployment name.
	AzureEndpoint   string
	AzureAPIVersion string
	Model           string
	// ReasoningEffort is sent to reasoning models only. Defaults to medium.
	ReasoningEffort string
	// MaxSourceChars caps each source in the answer prompt.
	MaxSourceChars int
}

// Overrides replaces the configured model or reasoning effort for a single request.
type Overrides struct {
	Model           string
	ReasoningEffort string
}

// Validate checks the effort name.
func (o Overrides) Validate() error {
	return validEffort(o.ReasoningEffort)
}

type overridesKey struct{}

// WithOverrides attaches o to ctx. Empty fields keep the configured values.
func WithOverrides(ctx context.Context, o Overrides) context.Context {
	return context.WithValue(ctx, overridesKey{}, o)
}

// OverridesFrom returns the overrides attached by WithOverrides, or the zero value.
func OverridesFrom(ctx context.Context) Overrides {
	o, _ := ctx.Value(overridesKey{}).(Overrides)
	return o
}

// IsReasoningModel reports whether model is a reasoning model: the o-series (o1, o3-mini, o4-mini) or gpt-5.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.HasPrefix(m, "gpt-5") {
		return true
	}
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

func validEffort(effort string) error {
	switch effort {
	case "", "minimal", "low", "medium", "high":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEffort, effort)
	}
}

// Source is one fetched document offered to the model as reference material.
type Source struct {
	Title string
	URL   string
	Text  string
}

// Client talks to the chat-completion API.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxSourceChars == 0 {
		cfg.MaxSourceChars = defaultMaxSourceChars
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = defaultReasoningEffort
	}
	if err := validEffort(cfg.ReasoningEffort); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var clientCfg openai.ClientConfig
	if cfg.AzureEndpoint != "" {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.AzureAPIVersion != "" {
			clientCfg.APIVersion = cfg.AzureAPIVersion
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}
	return &Client{api: openai.NewClientWithConfig(clientCfg), cfg: cfg, logger: logger}, nil
}

// SearchTerm asks the model for a web search query. The question itself is returned when the call fails
// or yields nothing, so a search can always proceed.
func (c *Client) SearchTerm(ctx context.Context, question string) string {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: searchTermPrompt},
		{Role: openai.ChatMessageRoleUser, Content: question},
	}, 50, 0.3))
	if err != nil {
		c.logger.Warn("search term generation failed, using question", zap.Error(err))
		return question
	}
	if len(resp.Choices) == 0 {
		return question
	}
	term := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if term == "" {
		return question
	}
	return term
}

// Answer returns the model's answer to question grounded on sources.
func (c *Client) Answer(ctx context.Context, question string, sources []Source) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.answerRequest(ctx, question, sources))
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamAnswer relays answer tokens to onDelta as they arrive. It stops at the first error from onDelta.
func (c *Client) StreamAnswer(ctx context.Context, question string, sources []Source, onDelta func(string) error) error {
	req := c.answerRequest(ctx, question, sources)
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("create chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func (c *Client) answerRequest(ctx context.Context, question string, sources []Source) openai.ChatCompletionRequest {
	return c.request(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: answerPrompt},
		{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(question, sources, c.cfg.MaxSourceChars)},
	}, 1000, 0.7)
}

// request builds a completion request for the effective model. Reasoning models reject temperature and
// max_tokens, so they get reasoning_effort and max_completion_tokens instead.
func (c *Client) request(
	ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32,
) openai.ChatCompletionRequest {
	o := OverridesFrom(ctx)
	req := openai.ChatCompletionRequest{Model: c.cfg.Model, Messages: messages}
	if o.Model != "" {
		req.Model = o.Model
	}
	if !IsReasoningModel(req.Model) {
		req.MaxTokens = maxTokens
		req.Temperature = temperature
		return req
	}
	req.ReasoningEffort = c.cfg.ReasoningEffort
	if o.ReasoningEffort != "" {
		req.ReasoningEffort = o.ReasoningEffort
	}
	req.MaxCompletionTokens = maxTokens * reasoningTokenFactor
	return req
}

// BuildPrompt lays out the reference sources followed by the question. Each source text is cut to
// maxSourceChars runes.
func BuildPrompt(question string, sources []Source, maxSourceChars int) string {
	var b strings.Builder
	b.WriteString("Use the following reference content to answer the question. ")
	b.WriteString("If the answer cannot be found in the reference content, say so.\n\nReference Content:\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "\n--- Source %d: %s ---\nURL: %s\nContent: %s\n",
			i+1, src.Title, src.URL, extract.Truncate(src.Text, maxSourceChars))
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s", question)
	return b.String()
}
