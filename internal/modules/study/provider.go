package study

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/models"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

// httpError carries the HTTP status of a failed raw provider request so the
// retry policy can classify 429s without parsing message text.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("provider request failed with status %d: %s", e.Status, e.Body)
}

func (e *httpError) HTTPStatus() int { return e.Status }

// providerCaller resolves model assignments against the configured provider
// registry and issues generation requests.
type providerCaller struct {
	cfg config.AIConfig
}

func newProviderCaller(cfg config.AIConfig) *providerCaller {
	return &providerCaller{cfg: cfg}
}

func (p *providerCaller) Call(ctx context.Context, assignment config.AIModelAssignment, req callRequest) (string, error) {
	provider := selectProvider(p.cfg, &assignment)
	if provider == nil {
		return "", errors.New("no enabled AI provider matches the assignment")
	}

	if len(req.Attachments) > 0 || req.JSONSchema != nil {
		if isAnthropicProviderType(provider.Type) {
			return callAnthropicMessages(ctx, provider, req)
		}
		return callChatCompletions(ctx, provider, req)
	}

	if isOpenAICompatibleProviderType(provider.Type) || isOpenRouterProviderType(provider.Type) {
		return callChatCompletions(ctx, provider, req)
	}
	return callTextModel(ctx, provider, req)
}

func isOpenAICompatibleProviderType(raw string) bool {
	t := normalizeProviderType(raw)
	return t == "openai-compatible" || t == "openaicompatible"
}

func isAnthropicProviderType(raw string) bool {
	return normalizeProviderType(raw) == "anthropic"
}

func isOpenRouterProviderType(raw string) bool {
	return normalizeProviderType(raw) == "openrouter"
}

func normalizeProviderType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	return t
}

// selectProvider picks the enabled provider the assignment names, applying the
// assignment's model override. With no match it falls back to the first
// enabled provider.
func selectProvider(cfg config.AIConfig, assignment *config.AIModelAssignment) *config.AIProvider {
	var providerID, overrideModel string
	if assignment != nil {
		providerID = strings.TrimSpace(assignment.ProviderID)
		overrideModel = strings.TrimSpace(assignment.Model)
	}

	pick := func(provider config.AIProvider) *config.AIProvider {
		selected := provider
		if overrideModel != "" {
			selected.DefaultModel = overrideModel
		}
		return &selected
	}

	if providerID != "" {
		for _, provider := range cfg.Providers {
			if !provider.Enabled {
				continue
			}
			if strings.TrimSpace(provider.ID) != providerID {
				continue
			}
			return pick(provider)
		}
	}

	for _, provider := range cfg.Providers {
		if !provider.Enabled {
			continue
		}
		return pick(provider)
	}
	return nil
}

// callTextModel issues a plain text request through the unified SDK layer.
func callTextModel(ctx context.Context, provider *config.AIProvider, req callRequest) (string, error) {
	model, err := buildLanguageModel(provider)
	if err != nil {
		return "", err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := jetai.GenerateText(
		ctx,
		buildPromptMessages(req.System, req.Prompt),
		jetai.WithModel(model),
		jetai.WithMaxOutputTokens(maxTokens),
	)
	if err != nil {
		return "", err
	}
	return extractTextResponse(resp)
}

func buildPromptMessages(systemPrompt, prompt string) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: systemPrompt})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)})
	return messages
}

func extractTextResponse(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from AI")
	}

	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from AI")
	}
	return text, nil
}

func buildLanguageModel(provider *config.AIProvider) (jetapi.LanguageModel, error) {
	if provider == nil {
		return nil, errors.New("AI provider is nil")
	}

	apiKey := strings.TrimSpace(provider.APIKey)
	if apiKey == "" {
		return nil, errors.New("AI provider api key is empty")
	}

	modelID := strings.TrimSpace(provider.DefaultModel)
	endpoint := strings.TrimSpace(provider.Endpoint)

	if isAnthropicProviderType(provider.Type) {
		if modelID == "" {
			modelID = "claude-haiku-4-5-20251001"
		}

		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}

		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)), nil
	}

	if modelID == "" {
		modelID = "gpt-4o-mini"
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}

	client := openaiclient.NewClient(opts...)
	return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)), nil
}

// callAnthropicMessages sends an attachment-bearing request through the
// Anthropic SDK. PDFs go as base64 document blocks, transcripts inline as
// text. Audio has no Anthropic input form, so audio-bearing requests must be
// routed to an OpenAI-style provider.
func callAnthropicMessages(ctx context.Context, provider *config.AIProvider, req callRequest) (string, error) {
	apiKey := strings.TrimSpace(provider.APIKey)
	if apiKey == "" {
		return "", errors.New("AI provider api key is empty")
	}

	modelID := strings.TrimSpace(provider.DefaultModel)
	if modelID == "" {
		modelID = "claude-haiku-4-5-20251001"
	}

	blocks := make([]anthropicclient.ContentBlockParamUnion, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		switch a.Kind {
		case models.UploadPDF:
			blocks = append(blocks, anthropicclient.NewDocumentBlock(anthropicclient.Base64PDFSourceParam{
				Data: base64.StdEncoding.EncodeToString(a.Data),
			}))
		case models.UploadText:
			blocks = append(blocks, anthropicclient.NewTextBlock(
				fmt.Sprintf("Transcript %q:\n\n%s", a.FileName, string(a.Data))))
		case models.UploadAudio:
			return "", fmt.Errorf("provider %s cannot accept audio attachments", provider.ID)
		}
	}

	prompt := req.Prompt
	if req.JSONSchema != nil {
		schema, _ := json.Marshal(req.JSONSchema)
		prompt += "\n\nRespond with a single JSON object matching this schema, and nothing else:\n" + string(schema)
	}
	blocks = append(blocks, anthropicclient.NewTextBlock(prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if endpoint := strings.TrimSpace(provider.Endpoint); endpoint != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}
	client := anthropicclient.NewClient(opts...)

	params := anthropicclient.MessageNewParams{
		Model:     anthropicclient.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropicclient.MessageParam{anthropicclient.NewUserMessage(blocks...)},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropicclient.TextBlockParam{{Text: req.System}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			full.WriteString(block.Text)
		}
	}
	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from AI")
	}
	return text, nil
}

// callChatCompletions sends a chat-completions request over plain HTTP JSON.
// This is the only path that supports inline attachments (audio + files) and
// strict JSON-schema output across OpenAI-style providers.
func callChatCompletions(ctx context.Context, provider *config.AIProvider, req callRequest) (string, error) {
	if strings.TrimSpace(provider.APIKey) == "" {
		return "", errors.New("AI provider api key is empty")
	}

	endpoint := normalizeChatCompletionsEndpoint(provider.Endpoint, provider.Type)
	model := strings.TrimSpace(provider.DefaultModel)
	if model == "" {
		model = "gpt-4o-mini"
	}

	parts := make([]map[string]interface{}, 0, len(req.Attachments)+1)
	parts = append(parts, map[string]interface{}{
		"type": "text",
		"text": req.Prompt,
	})
	for _, a := range req.Attachments {
		switch a.Kind {
		case models.UploadAudio:
			parts = append(parts, map[string]interface{}{
				"type": "input_audio",
				"input_audio": map[string]interface{}{
					"data":   base64.StdEncoding.EncodeToString(a.Data),
					"format": audioFormat(a.MediaType),
				},
			})
		case models.UploadPDF:
			parts = append(parts, map[string]interface{}{
				"type": "file",
				"file": map[string]interface{}{
					"filename":  a.FileName,
					"file_data": fmt.Sprintf("data:%s;base64,%s", a.MediaType, base64.StdEncoding.EncodeToString(a.Data)),
				},
			})
		case models.UploadText:
			parts = append(parts, map[string]interface{}{
				"type": "text",
				"text": fmt.Sprintf("Transcript %q:\n\n%s", a.FileName, string(a.Data)),
			})
		}
	}

	messages := make([]map[string]interface{}, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": req.System,
		})
	}
	messages = append(messages, map[string]interface{}{
		"role":    "user",
		"content": parts,
	})

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.JSONSchema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		payload["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   name,
				"strict": true,
				"schema": req.JSONSchema,
			},
		}
	}

	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(provider.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &httpError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	if result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
		return "", fmt.Errorf("provider error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from AI")
	}
	return result.Choices[0].Message.Content, nil
}

func audioFormat(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "audio/wav":
		return "wav"
	default:
		return "mp3"
	}
}

// unmarshalAIJSON parses a model response into out, tolerating markdown code
// fences and surrounding prose.
func unmarshalAIJSON(raw string, out interface{}) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}
	return errors.New("invalid JSON response from AI")
}

func normalizeChatCompletionsEndpoint(raw, providerType string) string {
	if isOpenRouterProviderType(providerType) {
		base := strings.TrimSpace(raw)
		if base == "" {
			return "https://openrouter.ai/api/v1/chat/completions"
		}
		return strings.TrimRight(normalizeOpenRouterBase(base), "/") + "/chat/completions"
	}
	return normalizeOpenAICompatibleEndpoint(raw) + "/v1/chat/completions"
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		if path == "" {
			path = "/v1"
		} else {
			path += "/v1"
		}
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func normalizeOpenAICompatibleEndpoint(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "https://api.openai.com"
	}

	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		cleaned := strings.TrimRight(base, "/")
		cleaned = strings.TrimSuffix(cleaned, "/v1")
		return cleaned
	}

	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/v1")
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func normalizeOpenRouterBase(raw string) string {
	cleaned := strings.TrimRight(strings.TrimSpace(raw), "/")
	cleaned = strings.TrimSuffix(cleaned, "/chat/completions")
	if strings.HasSuffix(cleaned, "/api/v1") || strings.HasSuffix(cleaned, "/v1") {
		return cleaned
	}
	return cleaned + "/api/v1"
}
