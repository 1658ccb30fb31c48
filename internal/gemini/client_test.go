package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	calls   int
	errs    []error
	resp    *genai.GenerateContentResponse
	model   string
	configs []*genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.configs = append(f.configs, config)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestGenerateJSON(t *testing.T) {
	models := &fakeModels{resp: textResponse("```json\n{\"title\": \"Moonlight\"}\n```")}
	c := newClient(Config{}, models)

	var out struct {
		Title string `json:"title"`
	}
	require.NoError(t, c.GenerateJSON(context.Background(), "improve", "you edit scripts", &out))
	assert.Equal(t, "Moonlight", out.Title)
	assert.Equal(t, DefaultTextModel, models.model)

	require.Len(t, models.configs, 1)
	cfg := models.configs[0]
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "you edit scripts", cfg.SystemInstruction.Parts[0].Text)
}

func TestGenerateJSON_EmptyReply(t *testing.T) {
	c := newClient(Config{}, &fakeModels{resp: textResponse("  ")})
	var out map[string]any
	assert.Error(t, c.GenerateJSON(context.Background(), "improve", "", &out))
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	models := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your image"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: png}},
			}},
		}},
	}}
	c := newClient(Config{ImageModel: "image-model"}, models)

	data, err := c.GenerateImage(context.Background(), "a foggy pier", "9:16")
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "image-model", models.model)
	require.NotNil(t, models.configs[0].ImageConfig)
	assert.Equal(t, "9:16", models.configs[0].ImageConfig.AspectRatio)
	assert.Contains(t, models.configs[0].ResponseModalities, "IMAGE")
}

func TestGenerateImage_NoImage(t *testing.T) {
	c := newClient(Config{}, &fakeModels{resp: textResponse("I cannot draw that")})
	_, err := c.GenerateImage(context.Background(), "a foggy pier", "")
	assert.ErrorContains(t, err, "no image data")
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	models := &fakeModels{
		errs: []error{
			genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"},
			genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"},
		},
		resp: textResponse(`{"ok": true}`),
	}
	c := newClient(Config{MaxRetries: 2, RetryDelay: time.Millisecond}, models)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GenerateJSON(context.Background(), "p", "", &out))
	assert.True(t, out.OK)
	assert.Equal(t, 3, models.calls)
}

func TestGenerate_DoesNotRetryClientErrors(t *testing.T) {
	models := &fakeModels{errs: []error{genai.APIError{Code: http.StatusBadRequest, Message: "bad"}}}
	c := newClient(Config{MaxRetries: 3, RetryDelay: time.Millisecond}, models)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), "p", "", &out)
	require.Error(t, err)
	assert.Equal(t, 1, models.calls)

	var apiErr genai.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(genai.APIError{Code: 500}))
	assert.True(t, Retryable(genai.APIError{Code: 429}))
	assert.False(t, Retryable(genai.APIError{Code: 403}))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.New("boom")))
}
