package scanning

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-crop/internal/candidates"
)

var _ = Describe("Ollama", func() {
	var (
		server      *ghttp.Server
		scanner     *Ollama
		contentType string
		result      *candidates.Candidates
		err         error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		contentType = "image/jpeg"
		scanner, err = NewOllama(server.URL()+"/", "qwen2.5vl:7b")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result, err = scanner.ScanReceipt(context.Background(), []byte("jpeg-bytes"), contentType)
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.VerifyJSONRepresenting(map[string]any{
					"model":  "qwen2.5vl:7b",
					"stream": false,
					"format": "json",
					"messages": []map[string]any{
						{
							"role":    "system",
							"content": "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information.",
						},
						{
							"role":    "user",
							"content": receiptScanPrompt,
							"images":  []string{"anBlZy1ieXRlcw=="},
						},
					},
				}),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"merchant":["Lawson"],"date":["2026/01/01"],"category":["Food"],"amount":[1280]}`,
					},
					"done": true,
				}),
			))
		})

		It("returns the parsed candidates", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Merchant).To(Equal([]string{"Lawson"}))
			Expect(result.Amount).To(Equal([]int64{1280}))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the status and body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"message": map[string]any{"role": "assistant", "content": "I cannot read this image."},
				"done":    true,
			}))
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing receipt data")))
		})
	})

	When("the chunk is a PDF", func() {
		BeforeEach(func() {
			contentType = "application/pdf"
		})

		It("refuses it without calling the API", func() {
			Expect(err).To(MatchError(ErrUnsupportedContent))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
