package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-crop/internal/editor"
	"github.com/zombor/receipt-crop/internal/geometry"
	"github.com/zombor/receipt-crop/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, scanner, storage, DefaultOptions(),
			&mockIDGenerator{ids: []string{"receipt-1", "txn-1"}},
			&mockTimeSource{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		// Each appended handler serves one request
		for range 8 {
			ghttpServer.AppendHandlers(server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	seed := func() {
		crop := fixtureCrop
		db.receipts["receipt-1"] = &Receipt{
			ID:          "receipt-1",
			Title:       "Corner Store",
			Filename:    "receipt-1_store.png",
			ContentType: "image/png",
			Size:        geometry.Size{W: 400, H: 300},
			Geometry:    geometry.Geometry{Crop: &crop},
		}
		storage.files["receipt-1_store.png"] = receiptImage(400, 300, fixtureContent)
	}

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	upload := func(filename, contentType string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
		header["Content-Type"] = []string{contentType}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	Describe("handleHealth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should not require auth", func() {
			resp := do("GET", "/healthz", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})

		It("should set headers on normal responses", func() {
			resp := do("GET", "/api/receipts", "")
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() { seed() })

			It("should return them as JSON", func() {
				resp := do("GET", "/api/receipts", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].Geometry.Crop).To(Equal(&fixtureCrop))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp := do("GET", "/api/receipts", "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decode(resp)["error"]).To(ContainSubstring("database error"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		When("upload succeeds", func() {
			It("should return the processed receipt", func() {
				resp := upload("store.png", "image/png", receiptImage(400, 300, fixtureContent))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var receipt Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal("receipt-1"))
				Expect(receipt.Title).To(Equal("Corner Store"))
				Expect(receipt.Geometry.Crop).To(Equal(&fixtureCrop))
			})
		})

		When("the part has no content type", func() {
			It("should guess it from the extension", func() {
				resp := upload("store.png", "application/octet-stream", receiptImage(400, 300, fixtureContent))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(db.receipts["receipt-1"].ContentType).To(Equal("image/png"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.WriteField("title", "none")).To(Succeed())
				Expect(writer.Close()).To(Succeed())
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(ContainSubstring("No file was selected"))
			})
		})

		When("invalid multipart form", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("scanning fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model unavailable")
			})

			It("should return status Bad Gateway", func() {
				resp := upload("store.png", "image/png", receiptImage(400, 300, fixtureContent))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})
	})

	Describe("receipt routes", func() {
		BeforeEach(func() { seed() })

		It("should return a receipt", func() {
			resp := do("GET", "/api/receipts/receipt-1", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(HaveKeyWithValue("title", "Corner Store"))
		})

		It("should return Not Found for unknown receipts", func() {
			resp := do("GET", "/api/receipts/missing", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decode(resp)).To(HaveKey("error"))
		})

		It("should return the original file", func() {
			resp := do("GET", "/api/receipts/receipt-1/file", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal(storage.files["receipt-1_store.png"]))
		})

		It("should return the composited preview", func() {
			resp := do("GET", "/api/receipts/receipt-1/preview", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-store"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(decodeJPEG(body).Bounds().Size()).To(Equal(image.Pt(140, 110)))
		})

		It("should detect bounds", func() {
			resp := do("POST", "/api/receipts/receipt-1/bounds", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out map[string]geometry.Rect
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out["crop"]).To(Equal(fixtureCrop))
		})

		It("should rescan", func() {
			resp := do("POST", "/api/receipts/receipt-1/rescan", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(scanner.scanned()).To(HaveLen(1))
		})

		It("should delete a receipt", func() {
			resp := do("DELETE", "/api/receipts/receipt-1", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should return Not Found when deleting an unknown receipt", func() {
			resp := do("DELETE", "/api/receipts/missing", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("editor routes", func() {
		BeforeEach(func() { seed() })

		When("no editor is open", func() {
			It("should return Not Found", func() {
				resp := do("GET", "/api/receipts/receipt-1/editor", "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the open request is malformed", func() {
			It("should return status Bad Request", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor", "{")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("an editor is open", func() {
			JustBeforeEach(func() {
				resp := do("POST", "/api/receipts/receipt-1/editor", `{"width":200,"height":150}`)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				overlay := decode(resp)
				Expect(overlay).To(HaveKeyWithValue("state", "idle"))
				Expect(overlay).To(HaveKeyWithValue("width", 200.0))
			})

			It("should return the overlay", func() {
				resp := do("GET", "/api/receipts/receipt-1/editor", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)).To(HaveKey("crop"))
			})

			It("should accept a single command", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `{"op":"pointer_down","x":75,"y":57.5}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)).To(HaveKeyWithValue("state", "dragging"))
			})

			It("should accept a batch of commands", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `[
					{"op":"pointer_down","x":75,"y":57.5},
					{"op":"pointer_move","x":85,"y":57.5},
					{"op":"pointer_up","x":85,"y":57.5}
				]`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				overlay := decode(resp)
				Expect(overlay).To(HaveKeyWithValue("state", "idle"))
				Expect(overlay["geometry"]).To(HaveKeyWithValue("crop", HaveKeyWithValue("left", 100.0)))
			})

			It("should return the overlay with a failing command", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `{"op":"explode"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				out := decode(resp)
				Expect(out["error"]).To(ContainSubstring("unknown op"))
				Expect(out).To(HaveKey("editor"))
			})

			It("should reject malformed commands", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `not json`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should commit", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `{"op":"add_redaction","rect":{"x":80,"y":60,"w":20,"h":20}}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp = do("POST", "/api/receipts/receipt-1/editor/commit", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(db.receipts["receipt-1"].Geometry.Redactions).To(HaveLen(1))

				resp = do("GET", "/api/receipts/receipt-1/editor", "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})

			It("should refuse to commit mid-drag", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `{"op":"pointer_down","x":75,"y":57.5}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp = do("POST", "/api/receipts/receipt-1/editor/commit", "")
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})

			It("should refuse a display resize mid-drag", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor/commands", `[
					{"op":"pointer_down","x":75,"y":57.5},
					{"op":"resize_display","width":100,"height":75}
				]`)
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(decode(resp)["editor"]).To(HaveKeyWithValue("state", "dragging"))
			})

			It("should discard", func() {
				resp := do("DELETE", "/api/receipts/receipt-1/editor", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)["geometry"]).To(HaveKeyWithValue("redactions", BeEmpty()))
			})
		})

		When("the receipt image is not editable", func() {
			BeforeEach(func() {
				db.receipts["receipt-1"].Size = geometry.Size{}
			})

			It("should return status Unprocessable Entity", func() {
				resp := do("POST", "/api/receipts/receipt-1/editor", `{"width":200,"height":150}`)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("transaction routes", func() {
		BeforeEach(func() {
			seed()
			db.receipts["receipt-1"].Candidates.Merchant = []string{"Corner Store"}
			db.receipts["receipt-1"].Candidates.Amount = []int64{2599}
		})

		It("should create a transaction", func() {
			resp := do("POST", "/api/transactions", `{"receipt_id":"receipt-1","memo":"lunch"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var transaction Transaction
			Expect(json.NewDecoder(resp.Body).Decode(&transaction)).To(Succeed())
			Expect(transaction.Payee).To(Equal("Corner Store"))
			Expect(transaction.Amount).To(Equal(int64(2599)))
			Expect(transaction.Memo).To(Equal("lunch"))
		})

		It("should require a receipt", func() {
			resp := do("POST", "/api/transactions", `{"memo":"lunch"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject an invalid selection", func() {
			resp := do("POST", "/api/transactions", `{"receipt_id":"receipt-1","amount":3}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should refuse a second transaction", func() {
			db.receipts["receipt-1"].TransactionID = "txn-0"
			resp := do("POST", "/api/transactions", `{"receipt_id":"receipt-1"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		When("a transaction exists", func() {
			JustBeforeEach(func() {
				resp := do("POST", "/api/transactions", `{"receipt_id":"receipt-1"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should return it with its receipt", func() {
				resp := do("GET", "/api/transactions/txn-1", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				out := decode(resp)
				Expect(out["transaction"]).To(HaveKeyWithValue("payee", "Corner Store"))
				Expect(out["receipt"]).To(HaveKeyWithValue("transaction_id", "txn-1"))
			})

			It("should list it", func() {
				resp := do("GET", "/api/transactions", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var transactions []*Transaction
				Expect(json.NewDecoder(resp.Body).Decode(&transactions)).To(Succeed())
				Expect(transactions).To(HaveLen(1))
			})
		})

		It("should return an empty list", func() {
			resp := do("GET", "/api/transactions", "")
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should return Not Found for unknown transactions", func() {
			resp := do("GET", "/api/transactions/missing", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("authenticate", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		request := func(header string) *http.Request {
			req, err := http.NewRequest("GET", "/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			return req
		}

		It("should accept valid credentials", func() {
			Expect(server.authenticate(request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))))).To(BeTrue())
		})

		It("should reject invalid credentials", func() {
			Expect(server.authenticate(request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong"))))).To(BeFalse())
		})

		It("should reject malformed headers", func() {
			Expect(server.authenticate(request("Basic !!!"))).To(BeFalse())
			Expect(server.authenticate(request("Bearer token"))).To(BeFalse())
			Expect(server.authenticate(request(""))).To(BeFalse())
		})

		When("no auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{}
			})

			It("should allow every request", func() {
				Expect(server.authenticate(request(""))).To(BeTrue())
			})
		})
	})

	Describe("requireAuth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should challenge unauthenticated requests", func() {
			resp := do("GET", "/api/receipts", "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(Equal(`Basic realm="Receipt Crop"`))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should pass authenticated requests", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("statusFor", func() {
		DescribeTable("maps errors to status codes",
			func(err error, code int) {
				Expect(statusFor(fmt.Errorf("wrapped: %w", err))).To(Equal(code))
			},
			Entry("not found", ErrNotFound, http.StatusNotFound),
			Entry("editor not open", ErrEditorNotOpen, http.StatusNotFound),
			Entry("drag in progress", editor.ErrDragInProgress, http.StatusConflict),
			Entry("already linked", ErrAlreadyLinked, http.StatusConflict),
			Entry("invalid geometry", geometry.ErrInvalidGeometry, http.StatusBadRequest),
			Entry("invalid command", editor.ErrInvalidCommand, http.StatusBadRequest),
			Entry("no selection", editor.ErrNoSelection, http.StatusBadRequest),
			Entry("invalid selection", ErrInvalidSelection, http.StatusBadRequest),
			Entry("not editable", ErrNotEditable, http.StatusUnprocessableEntity),
			Entry("scan failed", scanning.ErrScanFailed, http.StatusBadGateway),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)
	})
})
