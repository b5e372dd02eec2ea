package genai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"server/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestGenerateText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key query param")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"title\":\"x\"}"}]}}]}`))
	})

	got, err := c.GenerateText(context.Background(), TextRequest{Prompt: "idea", JSON: true})
	if err != nil {
		t.Fatalf("GenerateText error: %v", err)
	}
	if got != `{"title":"x"}` {
		t.Fatalf("GenerateText = %q", got)
	}
}

func TestGenerateTextEmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "idea"})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}
}

func TestGenerateImageInline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"aGVsbG8="}}]}}]}`))
	})
	res, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("GenerateImage error: %v", err)
	}
	if string(res.Data) != "hello" || res.Format != "image/png" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStartVideoReturnsHandle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"operations/op-123","done":false}`))
	})
	handle, err := c.StartVideo(context.Background(), VideoRequest{
		Prompt:        "fox leaps",
		FirstFrameURL: "https://store/frame.png",
	})
	if err != nil {
		t.Fatalf("StartVideo error: %v", err)
	}
	if handle != "operations/op-123" {
		t.Fatalf("handle = %q", handle)
	}
}

func TestStartVideoRequiresFirstFrame(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the provider")
	})
	_, err := c.StartVideo(context.Background(), VideoRequest{Prompt: "fox leaps"})
	if !errors.Is(err, domain.ErrMissingPrompt) {
		t.Fatalf("expected ErrMissingPrompt, got %v", err)
	}
}

func TestGetOperationStates(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    OperationState
		wantURL string
	}{
		{
			name: "pending",
			body: `{"name":"op","done":false}`,
			want: OperationPending,
		},
		{
			name:    "succeeded",
			body:    `{"name":"op","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://cdn/video.mp4"}}]}}}`,
			want:    OperationSucceeded,
			wantURL: "https://cdn/video.mp4",
		},
		{
			name: "failed",
			body: `{"name":"op","done":true,"error":{"code":3,"status":"INVALID_ARGUMENT","message":"bad prompt"}}`,
			want: OperationFailed,
		},
		{
			name: "no resource maps to unavailable",
			body: `{"name":"op","done":true,"error":{"code":8,"status":"RESOURCE_EXHAUSTED","message":"no capacity"}}`,
			want: OperationUnavailable,
		},
		{
			name: "done without artifact is failed",
			body: `{"name":"op","done":true,"response":{}}`,
			want: OperationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			st, err := c.GetOperation(context.Background(), "operations/op")
			if err != nil {
				t.Fatalf("GetOperation error: %v", err)
			}
			if st.State != tt.want {
				t.Fatalf("State = %q, want %q", st.State, tt.want)
			}
			if st.ArtifactURL != tt.wantURL {
				t.Fatalf("ArtifactURL = %q, want %q", st.ArtifactURL, tt.wantURL)
			}
		})
	}
}

func TestAPIErrorBusyClassification(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`))
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "idea"})
	if !errors.Is(err, domain.ErrProviderBusy) {
		t.Fatalf("expected ErrProviderBusy, got %v", err)
	}
}

func TestAPIErrorServerErrorsStayRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"status":"INTERNAL","message":"backend hiccup"}}`))
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "idea"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrProviderFailure) || errors.Is(err, domain.ErrProviderBusy) {
		t.Fatalf("server error classified as definitive: %v", err)
	}
}

func TestAPIErrorFailureClassification(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"prompt rejected"}}`))
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "idea"})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}
}
