package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/draw"
	"image/png"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-crop/internal/candidates"
	"github.com/zombor/receipt-crop/internal/geometry"
	"github.com/zombor/receipt-crop/internal/receipt"
)

// stubScanner returns fixed candidates and counts its calls
type stubScanner struct {
	mu     sync.Mutex
	calls  int
	result candidates.Candidates
}

func (s *stubScanner) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*candidates.Candidates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	c := s.result
	return &c, nil
}

func (s *stubScanner) Close() error {
	return nil
}

func (s *stubScanner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubScanner) setAmounts(amounts ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Amount = amounts
}

var _ = Describe("Integration", func() {
	var (
		db       *receipt.BoltDB
		store    *receipt.LocalStorage
		scanner  *stubScanner
		server   *receipt.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		scanner = &stubScanner{result: candidates.Candidates{
			Merchant: []string{"Test Integration Receipt"},
			Date:     []string{"2024-03-20"},
			Amount:   []int64{4250},
		}}

		service := receipt.NewService(db, scanner, store, receipt.DefaultOptions())
		server = receipt.NewServer(service, receipt.BasicAuth{})
		ghServer = ghttp.NewServer()
		ghServer.AppendHandlers(
			server.ServeHTTP, // upload
			server.ServeHTTP, // open editor
			server.ServeHTTP, // commands
			server.ServeHTTP, // commit
			server.ServeHTTP, // transaction
		)
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	post := func(path, contentType string, body *bytes.Buffer, want int, out any) {
		resp, err := http.Post(ghServer.URL()+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(want))
		if out != nil {
			Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
		}
	}

	It("should upload, edit, commit and book a receipt", func() {
		// A 300x600 white page with a black block inside 50..250 x 100..500
		img := image.NewRGBA(image.Rect(0, 0, 300, 600))
		draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(50, 100, 250, 500), image.Black, image.Point{}, draw.Src)
		var page bytes.Buffer
		Expect(png.Encode(&page, img)).To(Succeed())

		// --- Step 1: Upload ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(page.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		var uploaded receipt.Receipt
		post("/api/receipts", writer.FormDataContentType(), body, http.StatusCreated, &uploaded)
		Expect(uploaded.Title).To(Equal("Test Integration Receipt"))
		Expect(uploaded.Amount).To(Equal(int64(4250)))
		Expect(uploaded.Geometry.Crop).To(Equal(&geometry.Rect{Top: 80, Left: 30, Bottom: 520, Right: 270}))
		// 240x440 is taller than 1.8:1, so it was scanned in two chunks
		Expect(scanner.count()).To(Equal(2))

		stored, err := store.Get(uploaded.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(page.Bytes()))

		// --- Step 2: Edit ---
		post("/api/receipts/"+uploaded.ID+"/editor", "application/json",
			bytes.NewBufferString(`{"width":150,"height":300}`), http.StatusCreated, nil)

		// Draw a redaction from (40,100) to (60,120) display, which is
		// 80..120 x 200..240 in the image
		commands := strings.Join([]string{
			`{"op":"redact_mode","on":true}`,
			`{"op":"pointer_down","x":40,"y":100}`,
			`{"op":"pointer_move","x":60,"y":120}`,
			`{"op":"pointer_up","x":60,"y":120}`,
		}, ",")
		var overlay map[string]any
		post("/api/receipts/"+uploaded.ID+"/editor/commands", "application/json",
			bytes.NewBufferString("["+commands+"]"), http.StatusOK, &overlay)
		Expect(overlay["redactions"]).To(HaveLen(1))

		// --- Step 3: Commit ---
		scanner.setAmounts(4000)
		var committed receipt.Receipt
		post("/api/receipts/"+uploaded.ID+"/editor/commit", "application/json",
			&bytes.Buffer{}, http.StatusOK, &committed)
		Expect(committed.Amount).To(Equal(int64(4000)))

		saved, err := db.GetReceipt(uploaded.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Geometry.Redactions).To(Equal([]geometry.Rect{{Top: 200, Left: 80, Bottom: 240, Right: 120}}))
		Expect(saved.Geometry.Crop).To(Equal(uploaded.Geometry.Crop))

		// --- Step 4: Transaction ---
		var transaction receipt.Transaction
		post("/api/transactions", "application/json",
			bytes.NewBufferString(`{"receipt_id":"`+uploaded.ID+`"}`), http.StatusCreated, &transaction)
		Expect(transaction.Payee).To(Equal("Test Integration Receipt"))
		Expect(transaction.Amount).To(Equal(int64(4000)))

		linked, err := db.GetReceipt(uploaded.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(linked.TransactionID).To(Equal(transaction.ID))
	})
})
