package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/sashabaranov/go-openai"
)

// Upstream talks to one OpenAI-compatible provider endpoint.
type Upstream interface {
	ListModels(ctx context.Context, p model.Provider) ([]model.CatalogModel, error)
	Complete(ctx context.Context, p model.Provider, modelID string, req model.InferenceRequest) (model.DispatchResult, error)
	GenerateImage(ctx context.Context, p model.Provider, modelID string, req model.InferenceRequest) (model.DispatchResult, error)
}

var errMalformed = errors.New("malformed upstream response")

type OpenAIUpstream struct {
	httpClient *http.Client
}

func NewOpenAIUpstream(httpClient *http.Client) *OpenAIUpstream {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIUpstream{httpClient: httpClient}
}

var _ Upstream = (*OpenAIUpstream)(nil)

func (u *OpenAIUpstream) client(p model.Provider) *openai.Client {
	cfg := openai.DefaultConfig(p.Credential)
	cfg.BaseURL = strings.TrimRight(p.Address, "/")
	cfg.HTTPClient = u.httpClient
	return openai.NewClientWithConfig(cfg)
}

// catalogResponse is the /models payload. Providers extend the OpenAI shape
// with type and context fields.
type catalogResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		OwnedBy       string `json:"owned_by"`
		ContextLength int    `json:"context_length"`
		ModelSpec     struct {
			AvailableContextTokens int `json:"availableContextTokens"`
		} `json:"model_spec"`
	} `json:"data"`
}

// ListModels reads the raw catalog; the go-openai Model type drops the
// type and context fields.
func (u *OpenAIUpstream) ListModels(ctx context.Context, p model.Provider) ([]model.CatalogModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.Address, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.Credential)
	req.Header.Set("Accept", "application/json")

	res, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("provider=%s path=/models status=%d", p.Name, res.StatusCode)
	}

	var body catalogResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 8<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	out := make([]model.CatalogModel, 0, len(body.Data))
	for _, m := range body.Data {
		if m.ID == "" {
			continue
		}
		typ := strings.ToLower(m.Type)
		if typ == "" {
			typ = model.MediaText
		}
		ctxLen := m.ContextLength
		if m.ModelSpec.AvailableContextTokens > 0 {
			ctxLen = m.ModelSpec.AvailableContextTokens
		}
		out = append(out, model.CatalogModel{ID: m.ID, Type: typ, ContextLength: ctxLen, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

func (u *OpenAIUpstream) Complete(ctx context.Context, p model.Provider, modelID string, req model.InferenceRequest) (model.DispatchResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	creq := openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}

	resp, err := u.client(p).CreateChatCompletion(ctx, creq)
	if err != nil {
		return model.DispatchResult{}, err
	}
	if len(resp.Choices) == 0 {
		return model.DispatchResult{}, fmt.Errorf("%w: no choices", errMalformed)
	}

	res := model.DispatchResult{
		ProviderID:       p.ID,
		Model:            resp.Model,
		Content:          resp.Choices[0].Message.Content,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if res.Model == "" {
		res.Model = modelID
	}
	if res.TotalTokens == 0 {
		res.TotalTokens = res.PromptTokens + res.CompletionTokens
	}
	return res, nil
}

func (u *OpenAIUpstream) GenerateImage(ctx context.Context, p model.Provider, modelID string, req model.InferenceRequest) (model.DispatchResult, error) {
	ireq := openai.ImageRequest{
		Prompt: req.Prompt,
		Model:  modelID,
		N:      req.N,
		Size:   req.Size,
	}
	resp, err := u.client(p).CreateImage(ctx, ireq)
	if err != nil {
		return model.DispatchResult{}, err
	}
	if len(resp.Data) == 0 {
		return model.DispatchResult{}, fmt.Errorf("%w: no images", errMalformed)
	}

	res := model.DispatchResult{ProviderID: p.ID, Model: modelID}
	for _, d := range resp.Data {
		res.Images = append(res.Images, model.Image{URL: d.URL, B64JSON: d.B64JSON})
	}
	return res, nil
}
