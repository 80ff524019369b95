package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient overrides the default transport, used by tests.
	HTTPClient *http.Client
}

// GeminiProvider streams turns from the Gemini API, decoding wire parts
// into the closed StreamEvent set.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req StreamRequest) (Stream, error) {
	contents := toContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no conversation content to send")
	}

	config := &genai.GenerateContentConfig{
		Tools:          toGenaiTools(req.Tools),
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.DisableTools {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeNone,
			},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	responses := p.client.Models.GenerateContentStream(streamCtx, p.model, contents, config)
	next, stop := iter.Pull2(responses)
	return &geminiStream{next: next, stop: stop, cancel: cancel}, nil
}

// toContents converts conversation messages to Gemini contents. The
// assistant role maps to "model", tool results travel as user-role
// function responses. Reasoning parts are not replayed.
func toContents(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		var parts []*genai.Part
		for _, p := range msg.Parts {
			switch p.Type {
			case PartText:
				if p.Text != "" {
					parts = append(parts, &genai.Part{Text: p.Text})
				}
			case PartToolCall:
				if p.ToolCall != nil {
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							ID:   p.ToolCall.ID,
							Name: p.ToolCall.Name,
							Args: p.ToolCall.Input,
						},
					})
				}
			case PartToolResult:
				if p.ToolResult != nil {
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							ID:       p.ToolResult.ToolCallID,
							Name:     p.ToolResult.ToolName,
							Response: p.ToolResult.Output,
						},
					})
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func toGenaiTools(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaFromJSON(def.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// schemaFromJSON converts the JSON-schema subset used by tool
// descriptors (object/string/number/integer/boolean/array) into the
// Gemini schema type.
func schemaFromJSON(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if typ, ok := schema["type"].(string); ok {
		switch typ {
		case "object":
			out.Type = genai.TypeObject
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = map[string]*genai.Schema{}
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = schemaFromJSON(sub)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, raw := range required {
			if name, ok := raw.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		out.Required = append(out.Required, required...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaFromJSON(items)
	}
	return out
}

type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	pending []StreamEvent
	finish  string
	done    bool
}

func (s *geminiStream) Recv() (StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			return event, nil
		}
		if s.done {
			return StreamEvent{}, io.EOF
		}

		resp, err, ok := s.next()
		if !ok {
			s.done = true
			reason := s.finish
			if reason == "" {
				reason = "stop"
			}
			return StreamEvent{Type: EventDone, FinishReason: reason}, nil
		}
		if err != nil {
			s.done = true
			return StreamEvent{}, err
		}
		s.decode(resp)
	}
}

// decode translates one wire chunk into zero or more decoded events.
func (s *geminiStream) decode(resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" {
			s.finish = finishReason(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				call := part.FunctionCall
				id := call.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				s.pending = append(s.pending, StreamEvent{
					Type: EventToolCall,
					ToolCall: &ToolCall{
						ID:    id,
						Name:  call.Name,
						Input: call.Args,
					},
				})
			case part.Thought && part.Text != "":
				s.pending = append(s.pending, StreamEvent{Type: EventReasoningDelta, Delta: part.Text})
			case part.Text != "":
				s.pending = append(s.pending, StreamEvent{Type: EventTextDelta, Delta: part.Text})
			}
		}
	}
}

func finishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
