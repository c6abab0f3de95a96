package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/infra"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash-image"

	// entityNotFound is the upstream's only signal that the selected key is
	// unknown to it; there is no distinct error code.
	entityNotFound = "requested entity was not found"
)

// KeyFunc resolves the API key for each call so a key selected at runtime
// takes effect without rebuilding the client.
type KeyFunc func(ctx context.Context) (string, error)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	KeySource  KeyFunc
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the Gemini generateContent endpoint with an inline image.
type Client struct {
	apiKey     string
	keySource  KeyFunc
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// EditRequest is one image-to-image call.
type EditRequest struct {
	Model       string
	Image       []byte
	MIME        string
	Instruction string
	ImageSize   string
	AspectRatio string
	RequestID   string
}

// EditResult is the first image part returned by the model.
type EditResult struct {
	Data  []byte
	MIME  string
	Model string
	Text  string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageConfig struct {
	ImageSize   string `json:"imageSize,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// apiError is a non-2xx upstream reply.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.StatusCode)
	}
	return e.Message
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; deadlines come from the caller's context.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		keySource:  opts.KeySource,
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// EditImage sends the image and instruction in a single generateContent call
// and returns the first inline image of the reply. Failures are classified
// into the domain error kinds.
func (c *Client) EditImage(ctx context.Context, req EditRequest) (*EditResult, error) {
	if len(req.Image) == 0 {
		return nil, &domain.EnhancementError{Message: "no image data to enhance"}
	}
	key, err := c.resolveKey(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/png"
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(req.Image)}},
				{Text: req.Instruction},
			},
		}},
	}
	if req.ImageSize != "" || req.AspectRatio != "" {
		payload.GenerationConfig = &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &geminiImageConfig{ImageSize: req.ImageSize, AspectRatio: req.AspectRatio},
		}
	}

	started := time.Now()
	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	if err := c.invokeGemini(ctx, key, path, payload, &response); err != nil {
		classified := classify(err)
		c.logger.Warn().
			Err(classified).
			Str("request_id", req.RequestID).
			Str("model", model).
			Msg("genai: edit image failed")
		return nil, classified
	}

	result := &EditResult{Model: model}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && result.Text == "" {
				result.Text = part.Text
			}
			if result.Data != nil || part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &domain.EnhancementError{Message: "decode inline image data", Err: err}
			}
			result.Data = data
			result.MIME = part.InlineData.MimeType
		}
	}
	if len(result.Data) == 0 {
		if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
			return nil, &domain.EnhancementError{Message: "request blocked: " + response.PromptFeedback.BlockReason}
		}
		return nil, &domain.EmptyResultError{Model: model}
	}
	if result.MIME == "" {
		result.MIME = "image/png"
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", model).
		Int("bytes", len(result.Data)).
		Dur("elapsed", time.Since(started)).
		Msg("genai: edit image completed")

	return result, nil
}

// HasKey reports whether a key is currently available.
func (c *Client) HasKey(ctx context.Context) bool {
	key, err := c.resolveKey(ctx)
	return err == nil && key != ""
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	key := c.apiKey
	if c.keySource != nil {
		resolved, err := c.keySource(ctx)
		if err != nil {
			return "", &domain.AuthorizationError{Message: "resolve api key: " + err.Error()}
		}
		if strings.TrimSpace(resolved) != "" {
			key = strings.TrimSpace(resolved)
		}
	}
	if key == "" {
		return "", &domain.AuthorizationError{}
	}
	return key, nil
}

func (c *Client) invokeGemini(ctx context.Context, key, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &apiError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// classify maps transport and upstream failures onto domain error kinds.
// Context deadlines are passed through for the caller to report.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		lower := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(lower, entityNotFound),
			strings.Contains(lower, "api key not valid"),
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden:
			return &domain.AuthorizationError{Message: apiErr.Error()}
		}
		return &domain.EnhancementError{Message: apiErr.Error(), Err: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), entityNotFound) {
		return &domain.AuthorizationError{Message: err.Error()}
	}
	return &domain.EnhancementError{Message: err.Error(), Err: err}
}
