package completion

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/aditya/relaychat/pkg/history"
)

// Reply is the provider-neutral outcome of one completion call.
type Reply struct {
	Text        string
	Blocked     bool
	BlockReason string
}

// Caller executes a single completion call against a model.
type Caller interface {
	Generate(ctx context.Context, model string, turns []history.Turn, input string) (*Reply, error)
}

// DefaultMaxOutputTokens bounds generated reply length.
const DefaultMaxOutputTokens int32 = 500

// GeminiCaller implements Caller against the Gemini API.
type GeminiCaller struct {
	client          *genai.Client
	maxOutputTokens int32
	safety          []*genai.SafetySetting
}

// NewGeminiCaller creates a Gemini-backed caller. Each harm category is
// independently thresholded at block-medium-and-above.
func NewGeminiCaller(ctx context.Context, apiKey string, maxOutputTokens int32) (*GeminiCaller, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = DefaultMaxOutputTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiCaller{
		client:          client,
		maxOutputTokens: maxOutputTokens,
		safety: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}, nil
}

// Generate runs one chat completion over the reconciled history plus the
// current input.
func (c *GeminiCaller) Generate(ctx context.Context, model string, turns []history.Turn, input string) (*Reply, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxOutputTokens,
		SafetySettings:  c.safety,
	}

	chat, err := c.client.Chats.Create(ctx, model, cfg, contents)
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: input})
	if err != nil {
		return nil, err
	}

	if resp == nil {
		return &Reply{Blocked: true, BlockReason: "empty response"}, nil
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return &Reply{Blocked: true, BlockReason: string(resp.PromptFeedback.BlockReason)}, nil
	}
	if len(resp.Candidates) == 0 {
		return &Reply{Blocked: true, BlockReason: "no candidates"}, nil
	}

	return &Reply{Text: resp.Text()}, nil
}
