package recognition

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// transcriptionPrompt is the shared prompt used by the LLM backends
const transcriptionPrompt = `You are an OCR engine reading a photographed or scanned Brazilian receipt or invoice (nota fiscal, cupom fiscal).

Transcribe ALL visible text exactly as printed, line by line, top to bottom. The text is sparse: keep each printed line on its own line and do not merge columns.

Rules:
- Do not translate, summarize, correct or reformat anything. Keep numbers, CNPJ, dates and amounts exactly as printed (e.g. "12.345.678/0001-99", "05/03/2024", "1.234,56").
- Only use Latin letters, digits, Portuguese accented letters and the characters / - . , :
- Estimate how confident you are in the transcription as a number from 0 to 100.

Return ONLY valid JSON in this exact format:
{
  "text": "LINE 1\nLINE 2",
  "confidence": 0
}

Do not include any text before or after the JSON and do not use markdown code blocks.`

// parseTranscriptionJSON parses the JSON response from an LLM backend
func parseTranscriptionJSON(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data struct {
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result := &Result{
		Text: strings.TrimSpace(FilterWhitelist(data.Text)),
	}
	if data.Confidence != nil {
		result.Confidence = math.Max(0, math.Min(100, *data.Confidence))
	}
	return result, nil
}
