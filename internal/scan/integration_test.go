package scan_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/zombor/invoice-scanner/internal/auth"
	"github.com/zombor/invoice-scanner/internal/recognition"
	"github.com/zombor/invoice-scanner/internal/scan"
)

// fixedRecognizer returns the same transcription for every image
type fixedRecognizer struct {
	text  string
	calls int
}

func (f *fixedRecognizer) Recognize(ctx context.Context, png []byte) (*recognition.Result, error) {
	f.calls++
	return &recognition.Result{Text: f.text, Confidence: 93}, nil
}

func (f *fixedRecognizer) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		db         scan.DB
		store      scan.Storage
		recognizer *fixedRecognizer
		server     *scan.Server
		ghServer   *ghttp.Server
	)

	newClient := func() *http.Client {
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		return &http.Client{Jar: jar}
	}

	postJSON := func(client *http.Client, path, body string) *http.Response {
		resp, err := client.Post(ghServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	get := func(client *http.Client, path string) *http.Response {
		resp, err := client.Get(ghServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	signIn := func(client *http.Client, email string) {
		Expect(postJSON(client, "/api/auth/signup", `{"email":"`+email+`","password":"secret1"}`).StatusCode).To(Equal(http.StatusCreated))
		Expect(postJSON(client, "/api/auth/login", `{"email":"`+email+`","password":"secret1"}`).StatusCode).To(Equal(http.StatusOK))
	}

	uploadPNG := func(client *http.Client) *scan.Scan {
		img := image.NewGray(image.Rect(0, 0, 64, 32))
		for x := 0; x < 64; x++ {
			for y := 0; y < 32; y++ {
				img.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
			}
		}
		var imgBuf bytes.Buffer
		Expect(png.Encode(&imgBuf, img)).To(Succeed())

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "cupom.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(imgBuf.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.WriteField("enhance", "true")).To(Succeed())
		Expect(writer.Close()).To(Succeed())

		resp, err := client.Post(ghServer.URL()+"/api/scans", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created scan.Scan
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		return &created
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = scan.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		store, err = scan.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		recognizer = &fixedRecognizer{
			text: "SUPERMERCADO EXEMPLO LTDA\nCNPJ: 12.345.678/0001-99\nEMISSAO 05/03/2024 14:22\nTOTAL A PAGAR R$ 1.234,56",
		}

		authService, err := auth.NewService(db, auth.Config{
			Secret:     "integration-secret",
			TTL:        time.Hour,
			AdminEmail: "admin@example.com",
			HashCost:   bcrypt.MinCost,
		})
		Expect(err).NotTo(HaveOccurred())

		server = scan.NewServer(scan.NewService(db, recognizer, store), authService)
		ghServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE"} {
			ghServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
		DeferCleanup(ghServer.Close)
	})

	It("should scan an invoice end to end and show it to the admin", func() {
		user := newClient()
		signIn(user, "alice@example.com")

		// --- Step 1: Upload ---
		created := uploadPNG(user)
		Expect(recognizer.calls).To(Equal(1))
		Expect(created.TaxID).To(HaveValue(Equal("12.345.678/0001-99")))
		Expect(created.Date).To(HaveValue(Equal("05/03/2024")))
		Expect(created.Total).To(HaveValue(BeNumerically("~", 1234.56, 1e-9)))

		// The original upload is on disk and served back
		_, err := store.Get(created.Filename)
		Expect(err).NotTo(HaveOccurred())
		imgResp := get(user, created.ImageURL)
		Expect(imgResp.StatusCode).To(Equal(http.StatusOK))
		Expect(imgResp.Header.Get("Content-Type")).To(Equal("image/png"))

		// --- Step 2: History and export ---
		listResp := get(user, "/api/scans?q=12.345")
		var history []*scan.Scan
		Expect(json.NewDecoder(listResp.Body).Decode(&history)).To(Succeed())
		Expect(history).To(HaveLen(1))
		Expect(history[0].ID).To(Equal(created.ID))

		fieldsResp := get(user, "/api/scans/"+created.ID+"/fields")
		fields, err := io.ReadAll(fieldsResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(fields)).To(Equal("{\n  \"cnpj\": \"12.345.678/0001-99\",\n  \"data\": \"05/03/2024\",\n  \"total\": 1234.56\n}"))

		// --- Step 3: Admin dashboard ---
		Expect(get(user, "/api/admin/scans").StatusCode).To(Equal(http.StatusForbidden))

		admin := newClient()
		signIn(admin, "admin@example.com")
		adminResp := get(admin, "/api/admin/scans?q=supermercado")
		Expect(adminResp.StatusCode).To(Equal(http.StatusOK))
		var all []*scan.Scan
		Expect(json.NewDecoder(adminResp.Body).Decode(&all)).To(Succeed())
		Expect(all).To(HaveLen(1))

		// --- Step 4: Sign out ---
		Expect(postJSON(user, "/api/auth/logout", "").StatusCode).To(Equal(http.StatusNoContent))
		Expect(get(user, "/api/scans").StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("should keep users' histories apart", func() {
		alice := newClient()
		signIn(alice, "alice@example.com")
		created := uploadPNG(alice)

		bob := newClient()
		signIn(bob, "bob@example.com")
		Expect(get(bob, "/api/scans/"+created.ID).StatusCode).To(Equal(http.StatusNotFound))

		resp := get(bob, "/api/scans")
		var history []*scan.Scan
		Expect(json.NewDecoder(resp.Body).Decode(&history)).To(Succeed())
		Expect(history).To(BeEmpty())
	})
})
