package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:         "test-key",
		APIURL:         url,
		Model:          "test-model",
		ImageModel:     "test-image-model",
		SpeechModel:    "test-speech-model",
		MaxTokens:      1000,
		Temperature:    0.7,
		Timeout:        30,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	body, _ := json.Marshal(map[string]any{
		"id":     "test-id",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	})
	_, _ = w.Write(body)
}

func TestNewClient(t *testing.T) {
	config := testConfig("https://api.example.com/v1/")

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.Equal(t, config, client.config)
	assert.Equal(t, "https://api.example.com/v1", client.baseURL)
	assert.NotNil(t, client.httpClient)

	_, err = NewClient(&Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestClientWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Nil(t, req.ResponseFormat)
		writeChat(w, "Hello! This is a test response.")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	response, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-id", response.ID)
	require.Len(t, response.Choices, 1)
	assert.Equal(t, "Hello! This is a test response.", response.Choices[0].Message.Content)
	assert.Equal(t, 30, response.Usage.TotalTokens)
}

func TestClientErrorHandling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestClientRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
			return
		}
		writeChat(w, "ok")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	reply, err := client.SimpleChat(context.Background(), "Hello", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "Hello", "")
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientStopsRetryingOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.MaxRetries = 5
	config.RetryBaseDelay = time.Hour
	client, err := NewClient(config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.SimpleChat(ctx, "Hello", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimpleChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "You are a script editor.", req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
		}
		writeChat(w, "Sure.")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	reply, err := client.SimpleChat(context.Background(), "Tighten this line", "You are a script editor.")
	require.NoError(t, err)
	assert.Equal(t, "Sure.", reply)
}

func TestChatJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
		writeChat(w, "```json\n{\"title\": \"Night Shift\", \"scenes\": 3}\n```")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	var out struct {
		Title  string `json:"title"`
		Scenes int    `json:"scenes"`
	}
	require.NoError(t, client.ChatJSON(context.Background(), "Improve", "Return JSON.", &out))
	assert.Equal(t, "Night Shift", out.Title)
	assert.Equal(t, 3, out.Scenes)
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	t.Run("inline", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/images/generations", r.URL.Path)
			var req ImageRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-image-model", req.Model)
			assert.Equal(t, "1024x1536", req.Size)
			assert.Equal(t, "high", req.Quality)
			assert.Equal(t, 1, req.N)
			_ = json.NewEncoder(w).Encode(ImageResponse{Data: []ImageData{{B64JSON: base64.StdEncoding.EncodeToString(png)}}})
		}))
		defer server.Close()

		client, err := NewClient(testConfig(server.URL))
		require.NoError(t, err)
		data, err := client.GenerateImage(context.Background(), "a lighthouse", "1024x1536", "high")
		require.NoError(t, err)
		assert.Equal(t, png, data)
	})

	t.Run("url", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()
		mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ImageResponse{Data: []ImageData{{URL: server.URL + "/files/img.png"}}})
		})
		mux.HandleFunc("/files/img.png", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(png)
		})

		client, err := NewClient(testConfig(server.URL))
		require.NoError(t, err)
		data, err := client.GenerateImage(context.Background(), "a lighthouse", "1536x1024", "")
		require.NoError(t, err)
		assert.Equal(t, png, data)
	})

	t.Run("empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": []}`))
		}))
		defer server.Close()

		client, err := NewClient(testConfig(server.URL))
		require.NoError(t, err)
		_, err = client.GenerateImage(context.Background(), "a lighthouse", "1536x1024", "")
		assert.ErrorContains(t, err, "no image data")
	})

	t.Run("content filter", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": {"message": "rejected", "type": "invalid_request_error", "code": "content_filter"}}`))
		}))
		defer server.Close()

		client, err := NewClient(testConfig(server.URL))
		require.NoError(t, err)
		_, err = client.GenerateImage(context.Background(), "something", "1536x1024", "")
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.ContentFiltered())
		assert.False(t, apiErr.Retryable())
	})
}

func TestSpeech(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req SpeechRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "test-speech-model", req.Model)
		assert.Equal(t, "onyx", req.Voice)
		assert.Equal(t, 0.9, req.Speed)
		assert.Equal(t, "mp3", req.ResponseFormat)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3 fake mp3"))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	audio, err := client.Speech(context.Background(), SpeechRequest{Input: "It was a dark night.", Voice: "onyx", Speed: 0.9})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3 fake mp3"), audio)

	_, err = client.Speech(context.Background(), SpeechRequest{Input: "  ", Voice: "onyx"})
	assert.Error(t, err)
}

func TestClientConcurrentRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChat(w, "Response")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "Hello"}}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ChatCompletion(ctx, messages, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestInvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(context.DeadlineExceeded))
	assert.True(t, retryable(errors.New("connection reset by peer")))
	assert.True(t, retryable(&Error{StatusCode: http.StatusInternalServerError}))
	assert.False(t, retryable(&Error{StatusCode: http.StatusNotFound}))
}

// TestLiveChat talks to a real endpoint. Skipped unless LLM_API_KEY is set.
func TestLiveChat(t *testing.T) {
	_ = godotenv.Load("./.env")
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		t.Skip("Set LLM_API_KEY environment variable to run this test")
	}
	url := os.Getenv("LLM_API_URL")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	client, err := NewClient(&Config{
		APIKey:      apiKey,
		APIURL:      url,
		Model:       model,
		MaxTokens:   100,
		Temperature: 0.7,
		Timeout:     30,
	})
	require.NoError(t, err)

	var out struct {
		Answer string `json:"answer"`
	}
	err = client.ChatJSON(context.Background(), `Reply with {"answer": "yes"}`, "Reply in JSON only.", &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
}
