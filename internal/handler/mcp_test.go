package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

func mcpCall(t *testing.T, mux http.Handler, sessionID string, id int, method string, params any) jsonrpcResponse {
	t.Helper()

	body, _ := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(req, sessionID)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("%s: Status = %d\nBody: %s", method, w.Code, w.Body.String())
	}
	data, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(data))
	}
	return resp
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux http.Handler) string {
	t.Helper()

	body, _ := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	})
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(req, "")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}
	return w.Header().Get("Mcp-Session-Id")
}

func callTool(t *testing.T, mux http.Handler, sessionID, name string, args any) callToolResult {
	t.Helper()
	resp := mcpCall(t, mux, sessionID, 2, "tools/call", toolCallParams{Name: name, Arguments: args})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	return result
}

func TestMCPToolsList(t *testing.T) {
	env := newTestEnv(t, 0)
	sessionID := initMCPSession(t, env.mux)

	resp := mcpCall(t, env.mux, sessionID, 2, "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expected := map[string]bool{
		"get_cart":        false,
		"add_to_cart":     false,
		"quote_cart":      false,
		"submit_checkout": false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expected[tool.Name]; ok {
			expected[tool.Name] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPAddToCartAndQuote(t *testing.T) {
	env := newTestEnv(t, 0)
	sessionID := initMCPSession(t, env.mux)
	buyer := map[string]any{"browser_guid": "mcp-1"}

	result := callTool(t, env.mux, sessionID, "add_to_cart", map[string]any{
		"buyer":     buyer,
		"permalink": "zine",
	})
	if result.IsError {
		t.Fatalf("add_to_cart failed: %+v", result.Content)
	}
	var c CartOutput
	if err := json.Unmarshal(result.StructuredContent, &c); err != nil {
		t.Fatalf("structured content: %v", err)
	}
	if len(c.Items) != 1 || c.Items[0].Permalink != "zine" || c.MaxItems != 50 {
		t.Errorf("cart = %+v", c)
	}

	result = callTool(t, env.mux, sessionID, "quote_cart", map[string]any{"buyer": buyer})
	if result.IsError {
		t.Fatalf("quote_cart failed: %+v", result.Content)
	}
	var q QuoteOutput
	json.Unmarshal(result.StructuredContent, &q)
	if q.TotalCents != 500 {
		t.Errorf("quote = %+v", q)
	}
}

func TestMCPToolErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	sessionID := initMCPSession(t, env.mux)

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantText string
	}{
		{"missing buyer", "get_cart", map[string]any{"buyer": map[string]any{}}, "buyer.user_id or buyer.browser_guid is required"},
		{"unknown product", "add_to_cart", map[string]any{"buyer": map[string]any{"user_id": "u1"}, "permalink": "nope"}, "NOT_FOUND"},
		{"empty cart", "submit_checkout", map[string]any{"buyer": map[string]any{"user_id": "u1"}, "payment_token": "tok", "processor": "paypal"}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, env.mux, sessionID, tt.tool, tt.args)
			if !result.IsError {
				t.Fatal("Expected tool error")
			}
			if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, tt.wantText) {
				t.Errorf("content = %+v, want %q", result.Content, tt.wantText)
			}
		})
	}
}
