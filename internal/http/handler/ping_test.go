package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/http/handler"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/ping"
	"basegraph.app/committelemetry/internal/service"
)

func builtPing() model.Ping {
	return model.Ping{
		SchemaVersion: ping.SchemaVersion,
		Push: model.Push{
			PushID:        42,
			RepoURL:       "https://hg.mozilla.org/mozilla-central",
			PushTimestamp: 1527872156,
			Pusher:        "u@mozilla.com",
			Commits: []model.Commit{{
				Hash:         "deafa2891c61a4570be5b0a4fb8fb3fd9ed26c0c",
				Author:       "A <a@mozilla.com>",
				Message:      "Bug 1 - fix",
				ChangedPaths: []string{"x"},
				Parents:      []string{"0"},
			}},
		},
		Classifications: []model.ReviewClassification{{System: model.ReviewSystemNone}},
		GeneratedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

var _ = Describe("PingHandler", func() {
	var (
		router *gin.Engine
		svc    *mockInspectService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockInspectService{}
		h := handler.NewPingHandler(svc)
		router.POST("/changeset", h.Changeset)
		router.GET("/schema", h.Schema)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/changeset", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns the ping for a changeset", func() {
		var gotRepo, gotNode string
		svc.pingForChangesetFn = func(_ context.Context, repo, node string) (*service.InspectResult, error) {
			gotRepo, gotNode = repo, node
			return &service.InspectResult{
				Changeset: hgmo.Changeset{Node: node, PushID: 42},
				Ping:      builtPing(),
			}, nil
		}

		w := post(`{"changeset_id": "deafa2891c61", "repo_url": "https://hg.mozilla.org/mozilla-central"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(gotRepo).To(Equal("https://hg.mozilla.org/mozilla-central"))
		Expect(gotNode).To(Equal("deafa2891c61"))

		var resp struct {
			Changeset  string         `json:"changeset"`
			PushID     int64          `json:"push_id"`
			DocumentID string         `json:"document_id"`
			Ping       map[string]any `json:"ping"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.PushID).To(Equal(int64(42)))
		Expect(resp.DocumentID).To(Equal(ping.DocumentID(builtPing().Push.Key())))
		Expect(resp.Ping).To(HaveKeyWithValue("schema_version", BeNumerically("==", 1)))
		Expect(resp.Ping).To(HaveKey("push"))
	})

	It("defaults the repository", func() {
		var gotRepo string
		svc.pingForChangesetFn = func(_ context.Context, repo, node string) (*service.InspectResult, error) {
			gotRepo = repo
			return &service.InspectResult{Changeset: hgmo.Changeset{Node: node}, Ping: builtPing()}, nil
		}

		Expect(post(`{"changeset_id": "abc"}`).Code).To(Equal(http.StatusOK))
		Expect(gotRepo).To(BeEmpty())
	})

	It("returns 400 without a changeset", func() {
		Expect(post(`{}`).Code).To(Equal(http.StatusBadRequest))
	})

	DescribeTable("service errors",
		func(err error, status int) {
			svc.pingForChangesetFn = func(context.Context, string, string) (*service.InspectResult, error) {
				return nil, err
			}
			Expect(post(`{"changeset_id": "abc"}`).Code).To(Equal(status))
		},
		Entry("unknown changeset", fmt.Errorf("%w: abc", service.ErrChangesetNotFound), http.StatusNotFound),
		Entry("pushlog down", &hgmo.APIError{StatusCode: 503}, http.StatusBadGateway),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)

	It("serves the ping schema", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schema", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var schema map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &schema)).To(Succeed())
		Expect(schema).To(HaveKey("properties"))
	})
})
