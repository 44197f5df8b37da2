package scanning

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-crop/internal/candidates"
	"github.com/zombor/receipt-crop/internal/raster"
)

// mockScanner answers by chunk payload
type mockScanner struct {
	mu        sync.Mutex
	responses map[string]*candidates.Candidates
	errs      map[string]error
	delay     time.Duration
	calls     []string
}

func newMockScanner() *mockScanner {
	return &mockScanner{
		responses: make(map[string]*candidates.Candidates),
		errs:      make(map[string]error),
	}
}

func (m *mockScanner) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*candidates.Candidates, error) {
	key := string(imageData)
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	return m.responses[key], nil
}

func (m *mockScanner) Close() error {
	return nil
}

var _ = Describe("Pipeline", func() {
	var (
		scanner  *mockScanner
		opts     PipelineOptions
		chunks   []raster.Chunk
		result   *candidates.Candidates
		err      error
		pipeline *Pipeline
	)

	BeforeEach(func() {
		scanner = newMockScanner()
		opts = DefaultPipelineOptions()
		chunks = []raster.Chunk{
			{Index: 0, Data: []byte("top"), ContentType: raster.ContentTypeJPEG},
			{Index: 1, Data: []byte("middle"), ContentType: raster.ContentTypeJPEG},
			{Index: 2, Data: []byte("bottom"), ContentType: raster.ContentTypeJPEG},
		}
		scanner.responses["top"] = &candidates.Candidates{Merchant: []string{"FamilyMart"}, Date: []string{"2026/01/01"}}
		scanner.responses["middle"] = &candidates.Candidates{Merchant: []string{"familymart "}, Amount: []int64{150}}
		scanner.responses["bottom"] = &candidates.Candidates{Date: []string{"2026年01月01日"}, Amount: []int64{1280, 150}}
	})

	JustBeforeEach(func() {
		pipeline = NewPipeline(scanner, opts)
		result, err = pipeline.Extract(context.Background(), chunks)
	})

	It("scans every chunk", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(scanner.calls).To(ConsistOf("top", "middle", "bottom"))
	})

	It("merges in chunk order and normalises", func() {
		Expect(result.Merchant).To(Equal([]string{"FamilyMart"}))
		Expect(result.Date).To(Equal([]string{"2026-01-01"}))
		Expect(result.Amount).To(Equal([]int64{150, 1280}))
	})

	When("one chunk fails", func() {
		BeforeEach(func() {
			scanner.errs["middle"] = errors.New("rate limited")
		})

		It("keeps the other chunks", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount).To(Equal([]int64{1280, 150}))
		})
	})

	When("every chunk fails", func() {
		BeforeEach(func() {
			for _, c := range chunks {
				scanner.errs[string(c.Data)] = errors.New("offline")
			}
		})

		It("returns ErrScanFailed", func() {
			Expect(err).To(MatchError(ErrScanFailed))
			Expect(err).To(MatchError(ContainSubstring("offline")))
		})
	})

	When("a scan exceeds the timeout", func() {
		BeforeEach(func() {
			chunks = chunks[:1]
			scanner.delay = time.Second
			opts.Timeout = 10 * time.Millisecond
		})

		It("gives up on it", func() {
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})

	When("there are no chunks", func() {
		BeforeEach(func() {
			chunks = nil
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})
