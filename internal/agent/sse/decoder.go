// Package sse decodes Gemini-style streaming responses that arrive as
// "data: {json}\n" lines rather than standard double-newline-delimited
// Server-Sent Events. It exists for providers that speak to a raw HTTP
// gateway instead of going through an SDK that already owns its own
// stream decoding (see providers.GoogleProvider for the SDK-backed path).
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxBufferSize bounds how much undecoded data the Decoder will
// accumulate before giving up on the stream. A well-behaved gateway never
// approaches this; a stuck or misbehaving one would otherwise grow the
// buffer without limit.
const DefaultMaxBufferSize = 1 << 20 // 1MiB

// ErrBufferExceeded is returned by Next when the internal buffer would grow
// past MaxBufferSize without yielding a complete "data: {json}\n" line, and
// no partial JSON object could be salvaged from the buffered bytes.
var ErrBufferExceeded = errors.New("sse: stream buffer exceeded maximum size")

// Recognized finishReason values. STOP and MAX_TOKENS are normal
// completions; the rest indicate content was withheld or blocked by the
// gateway. All of them are terminal - see isTerminalFinishReason.
const (
	FinishStop              = "STOP"
	FinishMaxTokens         = "MAX_TOKENS"
	FinishSafety            = "SAFETY"
	FinishRecitation        = "RECITATION"
	FinishSPII              = "SPII"
	FinishProhibitedContent = "PROHIBITED_CONTENT"
	FinishBlocklist         = "BLOCKLIST"
	FinishOther             = "OTHER"
	FinishUnspecified       = "FINISH_REASON_UNSPECIFIED"
)

// isTerminalFinishReason reports whether finishReason ends the stream. An
// empty string means no finish reason was reported for this candidate,
// which is never terminal on its own. Every other value ends the stream,
// including one outside the Finish* constants above: an unrecognized
// finishReason is treated conservatively rather than risking an infinite
// read loop against a gateway speaking a newer protocol revision.
func isTerminalFinishReason(reason string) bool {
	return reason != ""
}

// ChunkKind discriminates the payload carried by a Chunk.
type ChunkKind int

const (
	// ChunkText carries partial or complete assistant text.
	ChunkText ChunkKind = iota
	// ChunkThought carries model "thinking" text, when the gateway
	// distinguishes it via part.thought.
	ChunkThought
	// ChunkToolCall carries a function-call request from the model.
	ChunkToolCall
	// ChunkToolResult carries a function response echoed back by the
	// gateway (present for providers that replay tool turns inline).
	ChunkToolResult
)

// ToolCall is the decoded shape of a Gemini functionCall part.
type ToolCall struct {
	Name string
	Args json.RawMessage
}

// ToolResult is the decoded shape of a Gemini functionResponse part.
type ToolResult struct {
	Name     string
	Response json.RawMessage
}

// Usage carries token accounting from a response's usageMetadata, when
// present. It is only populated on the chunk that completes a response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThoughtsTokens   int
	CachedTokens     int
}

// Chunk is a single decoded unit of a streamed response: one part of one
// candidate, or a synthetic empty-text chunk standing in for a completion
// marker that carried no parts at all.
type Chunk struct {
	Kind ChunkKind

	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult

	// FinalForResponse is true on the chunk that concludes the overall
	// response (the last part of a response whose finishReason is
	// terminal). Tool-call chunks are never final, even when the
	// gateway's finishReason for the response is STOP: a function call
	// always implies another turn is coming.
	FinalForResponse bool

	// FinishReason is the raw finishReason string reported for this
	// response, if any.
	FinishReason string

	// Usage is populated on the chunk that completes a response, if the
	// gateway reported usageMetadata for it.
	Usage *Usage
}

// geminiResponse mirrors the subset of the Gemini streaming response
// envelope the decoder understands.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text             string          `json:"text"`
	Thought          bool            `json:"thought"`
	FunctionCall     *geminiFuncCall `json:"functionCall"`
	FunctionResponse *geminiFuncResp `json:"functionResponse"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFuncResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

// Decoder incrementally decodes a Gemini-style "data: {json}\n" stream,
// pulled one Chunk at a time via Next. Callers feed raw bytes as they
// arrive over the wire with Feed, and call Next to retrieve decoded
// chunks; Next returns io.EOF once Close has been called and every
// buffered chunk has been drained.
//
// Decoder is not safe for concurrent use: callers must serialize Feed and
// Next the same way they would serialize reads from a single io.Reader.
type Decoder struct {
	buffer       []byte
	queue        []Chunk
	closed       bool
	maxBufferLen int
}

// NewDecoder creates a Decoder with the default maximum buffer size.
func NewDecoder() *Decoder {
	return NewDecoderSize(DefaultMaxBufferSize)
}

// NewDecoderSize creates a Decoder with a custom maximum buffer size.
func NewDecoderSize(maxBufferLen int) *Decoder {
	if maxBufferLen <= 0 {
		maxBufferLen = DefaultMaxBufferSize
	}
	return &Decoder{maxBufferLen: maxBufferLen}
}

// Feed appends newly-received bytes to the decode buffer. It returns
// ErrBufferExceeded if doing so would grow the buffer past the configured
// maximum and no complete "data: {json}\n" line nor any recoverable
// partial JSON object is present in what's buffered.
func (d *Decoder) Feed(b []byte) error {
	if d.closed {
		return errors.New("sse: Feed called after Close")
	}
	if len(d.buffer)+len(b) > d.maxBufferLen {
		if recovered, ok := d.recoverPartial(); ok {
			d.queue = append(d.queue, recovered...)
			d.buffer = d.buffer[:0]
		} else {
			return ErrBufferExceeded
		}
	}
	d.buffer = append(d.buffer, b...)
	return nil
}

// Close signals that no more bytes will be fed. Any trailing buffered
// content is given one last chance to decode as a complete object before
// Next starts returning io.EOF.
func (d *Decoder) Close() {
	d.closed = true
}

// Next returns the next decoded chunk, blocking on nothing: it is purely
// a pull over already-fed bytes. It returns (nil, nil) when more bytes
// are needed before a chunk can be produced (the caller should Feed more
// and call Next again), and (nil, io.EOF) once the stream is closed and
// fully drained.
func (d *Decoder) Next(ctx context.Context) (*Chunk, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if len(d.queue) > 0 {
		chunk := d.queue[0]
		d.queue = d.queue[1:]
		return &chunk, nil
	}

	if chunk, ok, err := d.extractLine(); err != nil {
		return nil, err
	} else if ok {
		return chunk, nil
	}

	if d.closed {
		if len(bytes.TrimSpace(d.buffer)) == 0 {
			return nil, io.EOF
		}
		chunks, ok := d.recoverPartial()
		d.buffer = d.buffer[:0]
		if !ok || len(chunks) == 0 {
			return nil, io.EOF
		}
		d.queue = append(d.queue, chunks...)
		chunk := d.queue[0]
		d.queue = d.queue[1:]
		return &chunk, nil
	}

	return nil, nil
}

// extractLine looks for a complete "data: {json}\n" line in the buffer,
// decodes it, and caches any extra chunks it produces (a single response
// can carry multiple parts, each of which becomes its own Chunk).
func (d *Decoder) extractLine() (*Chunk, bool, error) {
	const prefix = "data: "
	start := bytes.Index(d.buffer, []byte(prefix))
	if start < 0 {
		return nil, false, nil
	}
	jsonStart := start + len(prefix)

	end, ok := findBalancedObjectEnd(d.buffer, jsonStart)
	if !ok {
		return nil, false, nil
	}
	// Require a trailing newline so we know the line is actually complete
	// and not a prefix of a longer, still-arriving object.
	nl := bytes.IndexByte(d.buffer[end:], '\n')
	if nl < 0 {
		return nil, false, nil
	}
	lineEnd := end + nl

	payload := bytes.TrimSpace(d.buffer[jsonStart:end])
	d.buffer = append(d.buffer[:0:0], d.buffer[lineEnd+1:]...)

	if string(payload) == "[DONE]" {
		return d.Next(nil)
	}

	chunks, err := decodePayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("sse: decode payload: %w", err)
	}
	if len(chunks) == 0 {
		return d.Next(nil)
	}
	first := chunks[0]
	d.queue = append(d.queue, chunks[1:]...)
	return &first, true, nil
}

// recoverPartial scans the buffer for any complete JSON object it can
// find, even without a trailing newline, as a best-effort salvage of
// content ahead of a buffer overflow or an abruptly-closed stream.
func (d *Decoder) recoverPartial() ([]Chunk, bool) {
	const prefix = "data: "
	pos := 0
	for {
		start := bytes.Index(d.buffer[pos:], []byte(prefix))
		if start < 0 {
			return nil, false
		}
		jsonStart := pos + start + len(prefix)
		braceStart := bytes.IndexByte(d.buffer[jsonStart:], '{')
		if braceStart < 0 {
			return nil, false
		}
		objStart := jsonStart + braceStart
		end, ok := findBalancedObjectEnd(d.buffer, objStart)
		if ok {
			payload := bytes.TrimSpace(d.buffer[objStart:end])
			if chunks, err := decodePayload(payload); err == nil && len(chunks) > 0 {
				return chunks, true
			}
		}
		pos = objStart + 1
		if pos >= len(d.buffer) {
			return nil, false
		}
	}
}

// decodePayload converts one decoded Gemini response envelope into its
// constituent Chunks, mirroring the gateway's per-part streaming shape:
// each part of the first candidate becomes its own Chunk, only the last
// of which can be final, and never a tool-call part.
func decodePayload(payload []byte) ([]Chunk, error) {
	var resp geminiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		var arr []geminiResponse
		if arrErr := json.Unmarshal(payload, &arr); arrErr != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, errors.New("empty response array")
		}
		resp = arr[0]
	}

	if len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in response")
	}
	candidate := resp.Candidates[0]
	final := isTerminalFinishReason(candidate.FinishReason)

	var usage *Usage
	if resp.UsageMetadata != nil {
		usage = &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			ThoughtsTokens:   resp.UsageMetadata.ThoughtsTokenCount,
			CachedTokens:     resp.UsageMetadata.CachedContentTokenCount,
		}
	}

	if len(candidate.Content.Parts) == 0 {
		if !final {
			return nil, errors.New("empty parts array without a final finish reason")
		}
		return []Chunk{{
			Kind:             ChunkText,
			FinalForResponse: true,
			FinishReason:     candidate.FinishReason,
			Usage:            usage,
		}}, nil
	}

	hasContent := false
	for _, p := range candidate.Content.Parts {
		if p.FunctionCall != nil || p.FunctionResponse != nil || strings.TrimSpace(p.Text) != "" {
			hasContent = true
			break
		}
	}
	if final && !hasContent && candidate.FinishReason == "STOP" {
		// A STOP with no meaningful content usually means the prompt was
		// rejected before generating anything; report an empty final
		// text chunk rather than erroring, so the caller's loop
		// terminates cleanly instead of spinning on a malformed chunk.
		return []Chunk{{
			Kind:             ChunkText,
			FinalForResponse: true,
			FinishReason:     candidate.FinishReason,
			Usage:            usage,
		}}, nil
	}

	chunks := make([]Chunk, 0, len(candidate.Content.Parts))
	last := len(candidate.Content.Parts) - 1
	for i, part := range candidate.Content.Parts {
		chunk := convertPart(part)
		if chunk.Kind == ChunkToolCall {
			chunk.FinalForResponse = false
		} else if i == last {
			chunk.FinalForResponse = final
		}
		chunk.FinishReason = candidate.FinishReason
		chunks = append(chunks, chunk)
	}
	if usage != nil {
		chunks[len(chunks)-1].Usage = usage
	}
	return chunks, nil
}

func convertPart(part geminiPart) Chunk {
	switch {
	case part.FunctionCall != nil:
		return Chunk{
			Kind: ChunkToolCall,
			ToolCall: &ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			},
		}
	case part.FunctionResponse != nil:
		return Chunk{
			Kind: ChunkToolResult,
			ToolResult: &ToolResult{
				Name:     part.FunctionResponse.Name,
				Response: part.FunctionResponse.Response,
			},
		}
	case part.Thought:
		return Chunk{Kind: ChunkThought, Text: part.Text}
	default:
		return Chunk{Kind: ChunkText, Text: part.Text}
	}
}

// findBalancedObjectEnd scans buf starting at a '{' located at or after
// start for the index one past its matching '}', tracking quoted-string
// state so that braces inside string literals don't throw off the count.
// It returns ok=false if the buffer runs out before the object balances.
func findBalancedObjectEnd(buf []byte, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	seenOpen := false
	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
			seenOpen = true
		case '}':
			depth--
			if seenOpen && depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
