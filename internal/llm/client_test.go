package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/config"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.Timeout = config.Duration(5 * time.Second)
	return cfg
}

func TestNewClient(t *testing.T) {
	cfg := testLLMConfig("")
	cfg.Provider = config.ProviderOpenAI
	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)

	cfg.Provider = config.ProviderAnthropic
	client, err = NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)

	cfg.Provider = "mystery"
	_, err = NewClient(cfg)
	assert.Error(t, err)

	cfg.Provider = config.ProviderOpenAI
	cfg.APIKey = ""
	_, err = NewClient(cfg)
	assert.Error(t, err)
}

func TestOpenAIInvoke(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  {\"predictions\": {\"UTS\": 850}}  \n"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(testLLMConfig(server.URL))
	out, err := client.Invoke(context.Background(), "predict UTS")
	require.NoError(t, err)
	assert.Equal(t, `{"predictions": {"UTS": 850}}`, out, "completion must come back trimmed")
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestOpenAIErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error": {"message": "rate limit"}}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransient(err), "429 must classify transient: %v", err)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "bad gateway",
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransient(err), "5xx must classify transient: %v", err)
			},
		},
		{
			name:   "bad credentials",
			status: http.StatusUnauthorized,
			body:   `{"error": {"message": "invalid key"}}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuth(err), "401 must classify auth: %v", err)
				assert.False(t, IsTransient(err))
			},
		},
		{
			name:   "unexpected status",
			status: http.StatusBadRequest,
			body:   "bad request",
			check: func(t *testing.T, err error) {
				assert.False(t, IsTransient(err))
				assert.False(t, IsAuth(err))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewOpenAIClient(testLLMConfig(server.URL))
			_, err := client.Invoke(context.Background(), "predict")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestOpenAIProtocolErrors(t *testing.T) {
	for name, body := range map[string]string{
		"invalid json": "not json",
		"no choices":   `{"choices": []}`,
		"api error":    `{"error": {"message": "boom", "type": "server"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			client := NewOpenAIClient(testLLMConfig(server.URL))
			_, err := client.Invoke(context.Background(), "predict")
			require.Error(t, err)
			assert.False(t, IsTransient(err), "protocol errors must not retry: %v", err)
			assert.False(t, IsAuth(err))
		})
	}
}

func TestOpenAIConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed: connection refused

	client := NewOpenAIClient(testLLMConfig(server.URL))
	_, err := client.Invoke(context.Background(), "predict")
	require.Error(t, err)
	assert.True(t, IsTransient(err), "connection failure must classify transient: %v", err)
}

func TestAnthropicInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"predictions": `},
				{"type": "text", "text": `{"UTS": 850}}`},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.Provider = config.ProviderAnthropic
	client := NewAnthropicClient(cfg)
	out, err := client.Invoke(context.Background(), "predict UTS")
	require.NoError(t, err)
	assert.Equal(t, `{"predictions": {"UTS": 850}}`, out, "text blocks must concatenate")
}

func TestAnthropicErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"message": "forbidden"}}`))
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	client := NewAnthropicClient(cfg)
	_, err := client.Invoke(context.Background(), "predict")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}

func TestInvokeContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewOpenAIClient(testLLMConfig(server.URL))
	_, err := client.Invoke(ctx, "predict")
	require.Error(t, err)
	assert.True(t, IsTransient(err), "deadline expiry must classify transient: %v", err)
}
