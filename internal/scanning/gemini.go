package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiTimeout = 30 * time.Second

// receiptSchema declares the JSON shape Gemini must return
var receiptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"vendor_name":   {Type: genai.TypeString, Nullable: true},
		"vendor_tin":    {Type: genai.TypeString, Nullable: true, Description: "Tax Identification Number of the merchant if available."},
		"vendor_branch": {Type: genai.TypeString, Nullable: true, Description: "The specific branch location of the merchant."},
		"document_type": {
			Type:     genai.TypeString,
			Nullable: true,
			Enum:     []string{"Official Receipt", "Sales Invoice", "Billing Statement", "Other"},
		},
		"receipt_date":          {Type: genai.TypeString, Nullable: true},
		"currency":              {Type: genai.TypeString, Nullable: true},
		"subtotal":              {Type: genai.TypeNumber, Nullable: true},
		"tax":                   {Type: genai.TypeNumber, Nullable: true},
		"total":                 {Type: genai.TypeNumber, Nullable: true},
		"payment_method":        {Type: genai.TypeString, Nullable: true},
		"invoice_or_receipt_no": {Type: genai.TypeString, Nullable: true},
		"line_items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"description": {Type: genai.TypeString},
					"quantity":    {Type: genai.TypeNumber},
					"unit_price":  {Type: genai.TypeNumber},
					"amount":      {Type: genai.TypeNumber},
				},
			},
		},
		"suggested_category":  {Type: genai.TypeString, Nullable: true},
		"category_confidence": {Type: genai.TypeNumber, Nullable: true},
		"notes":               {Type: genai.TypeString, Nullable: true},
	},
	Required: []string{"total", "suggested_category", "vendor_name", "receipt_date"},
}

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = receiptSchema

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ScanReceipt sends the receipt to Gemini and parses the structured response
func (g *Gemini) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	pngData, err := toPNG(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData takes the format suffix, not the full MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", pngData), genai.Text(receiptScanPrompt))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	raw, err := ParseRawExtraction(text.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return raw, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
