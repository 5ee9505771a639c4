package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ollamaTimeout = 120 * time.Second

// Ollama implements the Scanner interface using a local Ollama server.
// Vision models that handle receipts reasonably: llava:1.6, qwen2-vl:7b, llava-phi3.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: &http.Client{
			Timeout: ollamaTimeout,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

// ollamaOptions pins sampling so the same receipt reads the same way twice
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanReceipt sends the receipt to Ollama's chat API and parses the response
func (o *Ollama) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTimeout)
	defer cancel()

	pngData, err := toPNG(imageData, contentType)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:   o.model,
		Stream:  false,
		Format:  "json",
		Options: &ollamaOptions{Temperature: 0, Seed: 42},
		Messages: []ollamaMessage{
			{Role: "system", Content: systemInstruction},
			{
				Role:    "user",
				Content: receiptScanPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("ollama model %q not available at %s (run `ollama pull %s`)", o.model, o.baseURL, o.model)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	raw, err := ParseRawExtraction(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return raw, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
