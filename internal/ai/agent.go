package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"afms/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

// DocumentAgent extracts structured data from document text with the OpenAI
// Responses API and a strict JSON schema.
type DocumentAgent struct {
	client *openai.Client
	model  shared.ResponsesModel
	schema map[string]any
}

var _ core.DocumentExtractor = (*DocumentAgent)(nil)

// NewDocumentAgent builds an agent. opts are passed to the OpenAI client,
// after the key, so tests can point it at a local server.
func NewDocumentAgent(apiKey string, opts ...option.RequestOption) (*DocumentAgent, error) {
	schema, err := extractionSchema()
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &DocumentAgent{
		client: &client,
		model:  shared.ResponsesModel(shared.ChatModelGPT4o),
		schema: schema,
	}, nil
}

func (a *DocumentAgent) Extract(ctx context.Context, document string, chartOfAccounts string) (*core.DocumentExtraction, error) {
	prompt := fmt.Sprintf(`You are an expert accountant reading a source document.
Extract the issuing party, document number, dates, currency and total, and propose a double-entry journal entry.
Rules:
1. Use ONLY account ids from the chart of accounts below.
2. Debits MUST equal Credits.
3. Amounts must be exact decimal strings (e.g. "100.00"), in the document currency.
4. Dates use YYYY-MM-DD.
5. Provide a confidence score (0.0-1.0) and explain your reasoning briefly.

Chart of Accounts (id | number name (category)):
%s

Document:
%s`, chartOfAccounts, document)

	params := responses.ResponseNewParams{
		Model: a.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "document_extraction",
					Strict:      param.NewOpt(true),
					Schema:      a.schema,
					Description: param.NewOpt("Structured data read from an accounting source document"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var ext core.DocumentExtraction
	if err := json.Unmarshal([]byte(content), &ext); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}
	return &ext, nil
}

// extractionSchema reflects core.DocumentExtraction into the map form the
// Responses API expects.
func extractionSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(core.DocumentExtraction{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schema, nil
}
