package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// Options controls how the generation client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Client is a facade over a Gemini-style REST backend. Text and image calls
// are synchronous; video generation submits a long-running operation and
// returns an opaque handle that OperationStatus polls.
type Client struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     infra.Logger
}

// NewClient constructs a client with sane defaults. A nil HTTP client gets a
// reusable one with a conservative timeout.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		textModel:  firstNonEmpty(opts.TextModel, "gemini-2.0-flash"),
		imageModel: firstNonEmpty(opts.ImageModel, "gemini-2.0-flash"),
		videoModel: firstNonEmpty(opts.VideoModel, "veo-2.0"),
		httpClient: client,
		logger:     opts.Logger,
	}, nil
}

// VideoModel returns the configured video model identifier.
func (c *Client) VideoModel() string {
	return c.videoModel
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type generationConfig struct {
	CandidateCount    int      `json:"candidateCount,omitempty"`
	ResponseMimeType  string   `json:"responseMimeType,omitempty"`
	ResponseModality  []string `json:"responseModalities,omitempty"`
	MaxOutputTokens   int      `json:"maxOutputTokens,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// TextRequest asks for a single text completion.
type TextRequest struct {
	Prompt    string
	System    string
	JSON      bool
	RequestID string
}

// GenerateText returns the first text candidate for the prompt.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	parts := []part{}
	if s := strings.TrimSpace(req.System); s != "" {
		parts = append(parts, part{Text: s})
	}
	parts = append(parts, part{Text: req.Prompt})

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if req.JSON {
		payload.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.textModel))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return "", err
	}
	for _, cand := range response.Candidates {
		for _, p := range cand.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				c.logger.Debug().Str("request_id", req.RequestID).Msg("genai: text candidate received")
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no text content returned", domain.ErrProviderFailure)
}

// ImageRequest asks for one image, optionally conditioned on reference images
// (character sheets for scene frames).
type ImageRequest struct {
	Prompt        string
	AspectRatio   string
	ReferenceURLs []string
	RequestID     string
}

// ImageResult is the normalized synchronous image outcome. Data holds the
// decoded bytes when the provider inlined them; URL is set when the provider
// hosts the artifact itself.
type ImageResult struct {
	Data   []byte
	URL    string
	Format string
}

// GenerateImage returns the first image candidate for the prompt.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	parts := []part{{Text: buildImagePrompt(req.Prompt, req.AspectRatio)}}
	for _, ref := range req.ReferenceURLs {
		if ref == "" {
			continue
		}
		parts = append(parts, part{FileData: &fileData{FileURI: ref}})
	}

	payload := generateContentRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{ResponseModality: []string{"IMAGE"}},
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.imageModel))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return nil, err
	}

	for _, cand := range response.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode inline data: %w", err)
				}
				return &ImageResult{Data: data, Format: firstNonEmpty(p.InlineData.MimeType, "image/png")}, nil
			}
			if p.FileData != nil && p.FileData.FileURI != "" {
				return &ImageResult{URL: p.FileData.FileURI, Format: firstNonEmpty(p.FileData.MimeType, "image/png")}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no image content returned", domain.ErrProviderFailure)
}

// VideoRequest submits an image-to-video job. FirstFrameURL is required;
// LastFrameURL is honored by models that support frame interpolation.
type VideoRequest struct {
	Prompt        string
	FirstFrameURL string
	LastFrameURL  string
	DurationSecs  int
	Model         string
	RequestID     string
}

type videoInstance struct {
	Prompt    string    `json:"prompt"`
	Image     *fileData `json:"image,omitempty"`
	LastFrame *fileData `json:"lastFrame,omitempty"`
}

type videoParameters struct {
	DurationSeconds int `json:"durationSeconds,omitempty"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance  `json:"instances"`
	Parameters *videoParameters `json:"parameters,omitempty"`
}

type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartVideo submits the long-running generation and returns the opaque
// operation name as the task handle.
func (c *Client) StartVideo(ctx context.Context, req VideoRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", domain.ErrMissingPrompt
	}
	if strings.TrimSpace(req.FirstFrameURL) == "" {
		return "", fmt.Errorf("%w: first frame reference", domain.ErrMissingPrompt)
	}

	instance := videoInstance{
		Prompt: req.Prompt,
		Image:  &fileData{FileURI: req.FirstFrameURL},
	}
	if req.LastFrameURL != "" {
		instance.LastFrame = &fileData{FileURI: req.LastFrameURL}
	}
	payload := predictLongRunningRequest{Instances: []videoInstance{instance}}
	if req.DurationSecs > 0 {
		payload.Parameters = &videoParameters{DurationSeconds: req.DurationSecs}
	}

	model := firstNonEmpty(req.Model, c.videoModel)
	var response operationResponse
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(model))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return "", err
	}
	if response.Name == "" {
		return "", fmt.Errorf("%w: operation name missing", domain.ErrProviderFailure)
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("operation", response.Name).
		Msg("genai: video operation submitted")
	return response.Name, nil
}

// OperationState is the normalized poll outcome.
type OperationState string

const (
	OperationPending     OperationState = "pending"
	OperationSucceeded   OperationState = "succeeded"
	OperationFailed      OperationState = "failed"
	OperationUnavailable OperationState = "unavailable"
)

// OperationStatus is one poll result for a task handle.
type OperationStatus struct {
	State       OperationState
	ArtifactURL string
	Message     string
}

type videoOperationResult struct {
	GenerateVideoResponse struct {
		GeneratedSamples []struct {
			Video struct {
				URI string `json:"uri"`
			} `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse"`
}

// GetOperation performs one status check against the task handle. Provider
// resource exhaustion maps to the distinct unavailable state rather than a
// generic failure.
func (c *Client) GetOperation(ctx context.Context, handle string) (*OperationStatus, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("operation handle is required")
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(handle, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll operation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.apiError(resp)
	}

	var op operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	if !op.Done {
		return &OperationStatus{State: OperationPending}, nil
	}
	if op.Error != nil {
		if isResourceExhausted(op.Error.Code, op.Error.Status) {
			return &OperationStatus{State: OperationUnavailable, Message: op.Error.Message}, nil
		}
		return &OperationStatus{State: OperationFailed, Message: op.Error.Message}, nil
	}

	var result videoOperationResult
	if len(op.Response) > 0 {
		if err := json.Unmarshal(op.Response, &result); err != nil {
			return nil, fmt.Errorf("decode operation result: %w", err)
		}
	}
	samples := result.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return &OperationStatus{State: OperationFailed, Message: "operation finished without artifact"}, nil
	}
	return &OperationStatus{State: OperationSucceeded, ArtifactURL: samples[0].Video.URI}, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are transient; callers retry them with backoff.
		return fmt.Errorf("invoke provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError classifies HTTP-level failures. 429/503 and RESOURCE_EXHAUSTED map
// to the busy sentinel and 4xx to a definitive provider failure. Other 5xx
// answers carry no verdict on the request itself, so they stay unclassified
// and callers retry them with backoff.
func (c *Client) apiError(resp *http.Response) error {
	var apiErr apiErrorResponse
	message := ""
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	if isResourceExhausted(resp.StatusCode, apiErr.Error.Status) {
		if message == "" {
			message = "no capacity available"
		}
		return fmt.Errorf("%w: %s", domain.ErrProviderBusy, message)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		if message != "" {
			return fmt.Errorf("provider status %d: %s", resp.StatusCode, message)
		}
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}
	if message != "" {
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailure, resp.StatusCode, message)
	}
	return fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
}

func isResourceExhausted(code int, status string) bool {
	if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE":
		return true
	}
	return false
}

func buildImagePrompt(prompt, aspect string) string {
	var b strings.Builder
	if p := strings.TrimSpace(prompt); p != "" {
		b.WriteString(p)
	}
	if a := strings.TrimSpace(aspect); a != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Aspect ratio: ")
		b.WriteString(a)
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
