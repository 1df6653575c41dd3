package analysis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/plate-watch/internal/dedupe"
)

var _ = Describe("Server", func() {
	var (
		provider    *mockProvider
		db          *mockDB
		storage     *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	newTestService := func() *Service {
		return NewService(provider, dedupe.NewCache(24*time.Hour, time.Hour), db, storage)
	}

	uploadImage := func(filename string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		part.Write(data)
		writer.Close()

		resp, err := http.Post(ghttpServer.URL()+"/api/analyses", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		provider = newMockProvider()
		db = newMockDB()
		storage = newMockStorage()
		service = newTestService()
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleHealth", func() {
		It("should return status OK", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, auth, http.NewServeMux())
				setupServer()
			})

			It("should not require credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})

	Describe("handleAnalyze", func() {
		When("upload succeeds", func() {
			It("should return status Created", func() {
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
			})

			It("should return the analysis with plate and ID", func() {
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				defer resp.Body.Close()
				var result Analysis
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result.ID).NotTo(BeEmpty())
				Expect(result.Plate).To(Equal("ABC1234"))
			})

			It("should set Content-Type to application/json", func() {
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				defer resp.Body.Close()
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})
		})

		When("the same plate is uploaded twice", func() {
			It("should flag the second result as a duplicate", func() {
				ghttpServer.AppendHandlers(server.ServeHTTP)
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				resp.Body.Close()

				resp = uploadImage("car.png", makeTestPNG(400, 200))
				defer resp.Body.Close()
				var result Analysis
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeTrue())
			})
		})

		When("the file is not a supported image", func() {
			It("should return status Bad Request", func() {
				resp := uploadImage("notes.txt", []byte("plain text"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})

			It("should return error in JSON", func() {
				resp := uploadImage("notes.txt", []byte("plain text"))
				defer resp.Body.Close()
				var response map[string]string
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &response)).NotTo(HaveOccurred())
				Expect(response["error"]).To(ContainSubstring("invalid input"))
			})
		})

		When("the upload is named like a PDF but does not render", func() {
			It("should reject it from the PDF path", func() {
				resp := uploadImage("scan.pdf", []byte("%PDF-1.4 not really a pdf"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var response map[string]string
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &response)).NotTo(HaveOccurred())
				Expect(response["error"]).To(ContainSubstring("rendering PDF"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/analyses", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("invalid multipart form", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/analyses", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the provider fails", func() {
			BeforeEach(func() {
				provider.extractErr = errors.New("provider unavailable")
			})

			It("should return status Bad Gateway", func() {
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				resp.Body.Close()
			})

			It("should return error in JSON", func() {
				resp := uploadImage("car.png", makeTestPNG(400, 200))
				defer resp.Body.Close()
				var response map[string]string
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &response)).NotTo(HaveOccurred())
				Expect(response["error"]).To(ContainSubstring("provider unavailable"))
			})
		})
	})

	Describe("handleListAnalyses", func() {
		When("records exist", func() {
			BeforeEach(func() {
				db.records["id1"] = &Record{ID: "id1", Plate: "ABC1234"}
				db.records["id2"] = &Record{ID: "id2", Plate: "XYZ999"}
			})

			It("should return all records", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var records []*Record
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &records)).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetAnalysis", func() {
		When("the record exists", func() {
			BeforeEach(func() {
				db.records["test-id"] = &Record{ID: "test-id", Plate: "ABC1234"}
			})

			It("should return the record", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses/test-id")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var got Record
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &got)).NotTo(HaveOccurred())
				Expect(got.Plate).To(Equal("ABC1234"))
			})
		})

		When("the record does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetCrop", func() {
		When("the crop exists", func() {
			BeforeEach(func() {
				db.records["test-id"] = &Record{
					ID:           "test-id",
					CropFilename: "test-id_plate.png",
					CropMIME:     "image/png",
				}
				storage.files["test-id_plate.png"] = []byte("crop content")
			})

			It("should return the crop with its content type", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses/test-id/crop")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("crop content"))
			})
		})

		When("the record has no crop", func() {
			BeforeEach(func() {
				db.records["test-id"] = &Record{ID: "test-id"}
			})

			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses/test-id/crop")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleDeleteAnalysis", func() {
		When("deletion succeeds", func() {
			BeforeEach(func() {
				db.records["test-id"] = &Record{
					ID:           "test-id",
					CropFilename: "test-id_plate.png",
				}
				storage.files["test-id_plate.png"] = []byte("crop content")
			})

			It("should return status No Content", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/analyses/test-id", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
			})

			It("should remove the record and crop", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/analyses/test-id", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(db.records).NotTo(HaveKey("test-id"))
				Expect(storage.files).NotTo(HaveKey("test-id_plate.png"))
			})
		})

		When("the record does not exist", func() {
			It("should return status Internal Server Error", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/analyses/nonexistent", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("authenticate", func() {
		When("no auth is configured", func() {
			It("should return true", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/analyses", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("valid credentials are provided", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, auth, http.NewServeMux())
				setupServer()
			})

			It("should return true", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/analyses", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pass"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("invalid credentials are provided", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, auth, http.NewServeMux())
				setupServer()
			})

			It("should return false", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/analyses", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:wrong"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeFalse())
			})
		})
	})

	Describe("requireAuth", func() {
		When("request is unauthorized", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, auth, http.NewServeMux())
				setupServer()
			})

			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})

			It("should set WWW-Authenticate header", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/analyses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
			})
		})
	})
})
