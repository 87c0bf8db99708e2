package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiExtractor implements Extractor with Google's Gemini API.
type GeminiExtractor struct {
	client  *genai.Client
	modelID string
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelID string) (*GeminiExtractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ocr: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("ocr: failed to create gemini client: %w", err)
	}
	return &GeminiExtractor{client: client, modelID: modelID}, nil
}

func (g *GeminiExtractor) ExtractCard(ctx context.Context, contentType string, image []byte) (*CardFields, error) {
	format, err := imageFormat(contentType)
	if err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(1024)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(cardPrompt))
	if err != nil {
		return nil, fmt.Errorf("ocr: gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("ocr: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, errors.New("ocr: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return ParseCard(text.String())
}

func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
