package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoices means the chat API returned an empty choice list.
var ErrNoChoices = errors.New("chat completion returned no choices")

// chatService abstracts the OpenAI chat API so tests can stub it.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type openaiChat struct {
	client openai.Client
}

func (c *openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

const (
	draftPrompt = "You are a marketing copywriter. Write a first draft of a short " +
		"article for the given content idea. Plain text, no markdown headings."
	editPrompt = "You are a senior editor. Rewrite the draft for clarity and flow. " +
		"Keep the substance, tighten the language."
	polishPrompt = "You are a brand voice specialist. Produce the final polished " +
		"version of this article: confident, concrete, free of filler."
	compliancePrompt = "You are a marketing compliance reviewer. Check the article for " +
		"unsubstantiated claims, missing disclaimers, and prohibited wording. " +
		"Reply with brief review notes, or a single line starting with BLOCK: " +
		"and the reason if it must not be published."
)

// OpenAIExecutor runs pipeline stages against the OpenAI chat API. Each
// stage is one completion call — which is exactly why the pipeline
// checkpoints between them.
type OpenAIExecutor struct {
	chat  chatService
	model openai.ChatModel
}

// NewOpenAIExecutor creates an executor for the given API key and model.
func NewOpenAIExecutor(apiKey, model string) *OpenAIExecutor {
	return &OpenAIExecutor{
		chat:  &openaiChat{client: openai.NewClient(option.WithAPIKey(apiKey))},
		model: openai.ChatModel(model),
	}
}

func (e *OpenAIExecutor) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Draft writes the first version from the idea's title and summary.
func (e *OpenAIExecutor) Draft(ctx context.Context, item *store.ContentItem) (string, error) {
	return e.complete(ctx, draftPrompt,
		fmt.Sprintf("Title: %s\n\nIdea summary: %s", item.Title, item.Summary))
}

// Edit rewrites the draft.
func (e *OpenAIExecutor) Edit(ctx context.Context, item *store.ContentItem, draft string) (string, error) {
	return e.complete(ctx, editPrompt,
		fmt.Sprintf("Title: %s\n\nDraft:\n%s", item.Title, draft))
}

// Polish produces the final body text.
func (e *OpenAIExecutor) Polish(ctx context.Context, item *store.ContentItem, edited string) (string, error) {
	return e.complete(ctx, polishPrompt,
		fmt.Sprintf("Title: %s\n\nEdited article:\n%s", item.Title, edited))
}

// Compliance reviews the polished article. A BLOCK verdict fails the stage
// so the job retries after the content or prompt is fixed.
func (e *OpenAIExecutor) Compliance(ctx context.Context, item *store.ContentItem, polished string) (string, error) {
	notes, err := e.complete(ctx, compliancePrompt,
		fmt.Sprintf("Title: %s\n\nArticle:\n%s", item.Title, polished))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(strings.TrimSpace(notes), "BLOCK") {
		return "", fmt.Errorf("compliance review blocked content: %s", strings.TrimSpace(notes))
	}
	return notes, nil
}
