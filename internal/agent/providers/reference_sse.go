package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/sse"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ReferenceSSEConfig configures the ReferenceSSEProvider.
type ReferenceSSEConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
}

// ReferenceSSEProvider talks to a Gemini-compatible HTTP gateway that does
// not ship a Go SDK: it posts the request body itself and decodes the raw
// "data: {json}\n" response stream with sse.Decoder. GoogleProvider should
// be preferred whenever the genai SDK reaches the target endpoint; this
// provider exists for gateways that only speak the wire format.
type ReferenceSSEProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
}

var _ agent.LLMProvider = (*ReferenceSSEProvider)(nil)

// NewReferenceSSEProvider creates a ReferenceSSEProvider.
func NewReferenceSSEProvider(cfg ReferenceSSEConfig) *ReferenceSSEProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ReferenceSSEProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       cfg.APIKey,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name returns the provider name.
func (p *ReferenceSSEProvider) Name() string {
	return "reference-sse"
}

// Models returns the configured default model, if any.
func (p *ReferenceSSEProvider) Models() []agent.Model {
	if p.defaultModel == "" {
		return nil
	}
	return []agent.Model{{ID: p.defaultModel, Name: p.defaultModel}}
}

// SupportsTools reports that function calling is available.
func (p *ReferenceSSEProvider) SupportsTools() bool {
	return true
}

// Complete posts the request and streams the decoded response.
func (p *ReferenceSSEProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("reference-sse", req.Model, errors.New("model is required"))
	}

	payload := buildReferenceSSERequest(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("reference-sse", model, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("reference-sse", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("reference-sse", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewProviderError("reference-sse", model, fmt.Errorf("status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewProviderError("reference-sse", model, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.streamResponse(ctx, resp.Body, chunks, model)
	return chunks, nil
}

func (p *ReferenceSSEProvider) streamResponse(ctx context.Context, body io.ReadCloser, out chan *agent.CompletionChunk, model string) {
	defer close(out)
	defer body.Close()

	decoder := sse.NewDecoder()
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if feedErr := decoder.Feed(buf[:n]); feedErr != nil {
				out <- &agent.CompletionChunk{Error: NewProviderError("reference-sse", model, feedErr), Done: true}
				return
			}
			if done := p.drainChunks(ctx, decoder, out); done {
				return
			}
		}
		if readErr == io.EOF {
			decoder.Close()
			p.drainChunks(ctx, decoder, out)
			out <- &agent.CompletionChunk{Done: true}
			return
		}
		if readErr != nil {
			out <- &agent.CompletionChunk{Error: NewProviderError("reference-sse", model, readErr), Done: true}
			return
		}
	}
}

// drainChunks pulls every chunk currently decodable from decoder and
// forwards it to out, translating sse.Chunk into agent.CompletionChunk.
// It returns true if the stream concluded (a chunk arrived with
// FinalForResponse set) so the caller can stop reading.
func (p *ReferenceSSEProvider) drainChunks(ctx context.Context, decoder *sse.Decoder, out chan<- *agent.CompletionChunk) bool {
	for {
		chunk, err := decoder.Next(ctx)
		if err == io.EOF {
			return false
		}
		if err != nil {
			out <- &agent.CompletionChunk{Error: err, Done: true}
			return true
		}
		if chunk == nil {
			return false
		}

		switch chunk.Kind {
		case sse.ChunkText:
			if chunk.Text != "" {
				out <- &agent.CompletionChunk{Text: chunk.Text}
			}
		case sse.ChunkThought:
			out <- &agent.CompletionChunk{Thinking: chunk.Text}
		case sse.ChunkToolCall:
			out <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
				ID:    uuid.NewString(),
				Name:  chunk.ToolCall.Name,
				Input: chunk.ToolCall.Args,
			}}
		case sse.ChunkToolResult:
			// Echoed tool results are not re-delivered to the caller; the
			// runtime already holds the result it sent in this turn.
		}

		if chunk.Usage != nil {
			out <- &agent.CompletionChunk{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if chunk.FinalForResponse {
			return true
		}
	}
}

type referenceSSERequest struct {
	Contents []referenceSSEContent `json:"contents"`
	System   *referenceSSEContent  `json:"systemInstruction,omitempty"`
}

type referenceSSEContent struct {
	Role  string             `json:"role,omitempty"`
	Parts []referenceSSEPart `json:"parts"`
}

type referenceSSEPart struct {
	Text string `json:"text,omitempty"`
}

func buildReferenceSSERequest(req *agent.CompletionRequest) referenceSSERequest {
	var out referenceSSERequest
	if system := strings.TrimSpace(req.System); system != "" {
		out.System = &referenceSSEContent{Parts: []referenceSSEPart{{Text: system}}}
	}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		if msg.Content == "" {
			continue
		}
		out.Contents = append(out.Contents, referenceSSEContent{
			Role:  role,
			Parts: []referenceSSEPart{{Text: msg.Content}},
		})
	}
	return out
}
