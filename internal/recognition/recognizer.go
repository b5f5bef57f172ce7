package recognition

import "context"

// Whitelist is the character set recognizers are restricted to: Latin
// letters, digits, Portuguese accented letters and receipt punctuation.
const Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	"ÁÀÂÃÉÊÍÓÔÕÚÜÇáàâãéêíóôõúüç" +
	"/-.,: \n\r\t"

// Result is a recognizer's transcription of one image
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Recognizer defines the interface for optical character recognition
type Recognizer interface {
	// Recognize transcribes a PNG-encoded image
	Recognize(ctx context.Context, png []byte) (*Result, error)
	// Close releases any resources held by the recognizer
	Close() error
}

// MeanConfidence averages per-word confidences (0-100). Negative values mark
// words the engine could not score and are skipped; no words gives 0.
func MeanConfidence(confidences []float64) float64 {
	var sum float64
	var n int
	for _, c := range confidences {
		if c < 0 {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// FilterWhitelist drops characters outside Whitelist. Backends that cannot
// be told about the whitelist use it on their output.
func FilterWhitelist(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if whitelistSet[r] {
			out = append(out, r)
		}
	}
	return string(out)
}

var whitelistSet = func() map[rune]bool {
	m := make(map[rune]bool)
	for _, r := range Whitelist {
		m[r] = true
	}
	return m
}()
