package recognition

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		result *Result
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ollama, err = NewOllama(server.URL(), "test-model")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result, err = ollama.Recognize(context.Background(), []byte("png bytes"))
	})

	When("the API answers with a transcription", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]string{
						"role":    "assistant",
						"content": `{"text": "TOTAL 12,50", "confidence": 72}`,
					},
					"done": true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the text", func() {
			Expect(result.Text).To(Equal("TOTAL 12,50"))
		})

		It("should return the confidence", func() {
			Expect(result.Confidence).To(Equal(72.0))
		})

		It("should send the image and model", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model not loaded"))
		})
	})

	When("the model answers without JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]string{"role": "assistant", "content": "sorry"},
				"done":    true,
			}))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing transcription")))
		})
	})
})
