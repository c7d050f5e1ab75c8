package llm

import "context"

// Content roles used on the Gemini wire format.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Blob carries inline binary data such as an image attachment. Data is
// base64 encoded.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse feeds a tool result back to the model. Response is an
// arbitrary JSON object; errors travel here as data, not as Go errors.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one piece of a content turn. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Content is a single turn in the model conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ToolDeclaration describes one callable tool in the request payload.
// Parameters is a JSON Schema object.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GenerateRequest is a provider-agnostic content generation request.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Tools             []ToolDeclaration
	Contents          []Content
}

// GenerateResponse is the model's reply for one request.
type GenerateResponse struct {
	// Content is the full model turn, suitable for appending to history.
	Content Content
	// Text is the concatenated text parts.
	Text string
	// FunctionCalls lists tool invocations the model requested, in order.
	FunctionCalls []FunctionCall
}

// Client is implemented by provider backends and by the scripted test
// client.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Split extracts the text and function calls from a raw content turn.
func Split(content Content) (string, []FunctionCall) {
	var text string
	var calls []FunctionCall
	for _, part := range content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, *part.FunctionCall)
		}
	}
	return text, calls
}
