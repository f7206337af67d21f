package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionSchema(t *testing.T) {
	schema, err := extractionSchema()
	require.NoError(t, err)

	assert.Equal(t, false, schema["additionalProperties"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"vendor", "invoice_number", "issue_date", "currency", "total", "legs", "confidence"} {
		assert.Contains(t, props, key)
	}
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Len(t, required, len(props), "strict mode needs every property required")
}

func TestExtract(t *testing.T) {
	extraction := map[string]any{
		"vendor":         "Acme Supplies",
		"invoice_number": "INV-42",
		"issue_date":     "2026-03-01",
		"due_date":       "",
		"currency":       "USD",
		"total":          "250.00",
		"summary":        "Office supplies",
		"legs": []map[string]string{
			{"account_id": "exp", "debit": "250.00", "credit": "", "memo": ""},
			{"account_id": "ap", "debit": "", "credit": "250.00", "memo": ""},
		},
		"confidence": 0.9,
		"reasoning":  "supplies are an expense payable to the vendor",
	}
	text, err := json.Marshal(extraction)
	require.NoError(t, err)

	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/responses"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		gotPrompt, _ = req["input"].(string)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "resp_1",
			"object":     "response",
			"created_at": 1,
			"status":     "completed",
			"model":      "gpt-4o",
			"output": []map[string]any{{
				"type":   "message",
				"id":     "msg_1",
				"role":   "assistant",
				"status": "completed",
				"content": []map[string]any{{
					"type":        "output_text",
					"text":        string(text),
					"annotations": []any{},
				}},
			}},
		})
	}))
	defer srv.Close()

	agent, err := NewDocumentAgent("sk-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	ext, err := agent.Extract(context.Background(), "Invoice INV-42 from Acme", "- exp | 5100 Supplies (expense)\n")
	require.NoError(t, err)
	assert.Equal(t, "Acme Supplies", ext.Vendor)
	assert.Equal(t, "INV-42", ext.InvoiceNumber)
	require.Len(t, ext.Legs, 2)
	assert.Equal(t, "250.00", ext.Legs[0].Debit)
	assert.Contains(t, gotPrompt, "5100 Supplies")
	assert.Contains(t, gotPrompt, "Invoice INV-42 from Acme")
}
