package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/committelemetry/internal/http/handler"
	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/service"
)

var _ = Describe("PushHandler", func() {
	var (
		router *gin.Engine
		svc    *mockPushIntakeService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockPushIntakeService{}
		router.POST("/pushes", handler.NewPushHandler(svc).Submit)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/pushes", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns 202 once the notification is enqueued", func() {
		var got []byte
		svc.submitFn = func(_ context.Context, body []byte) (*service.PushIntakeResult, error) {
			got = body
			return &service.PushIntakeResult{MessageID: "1-0", RepoURL: "https://hg/x", PushIDs: []int64{3}, Enqueued: true}, nil
		}

		w := post(`{"type": "changegroup.1"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(string(got)).To(Equal(`{"type": "changegroup.1"}`))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["message_id"]).To(Equal("1-0"))
		Expect(resp["enqueued"]).To(BeTrue())
	})

	It("returns 200 for ignored notifications", func() {
		svc.submitFn = func(context.Context, []byte) (*service.PushIntakeResult, error) {
			return &service.PushIntakeResult{Ignored: "message ignored: type pushlog.1"}, nil
		}

		w := post(`{"type": "pushlog.1"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"enqueued":false`))
	})

	It("returns 400 for malformed notifications", func() {
		svc.submitFn = func(context.Context, []byte) (*service.PushIntakeResult, error) {
			return nil, &normalize.MalformedRecordError{Field: "type", Reason: "missing"}
		}

		Expect(post(`{}`).Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 503 when the queue is unavailable", func() {
		svc.submitFn = func(context.Context, []byte) (*service.PushIntakeResult, error) {
			return nil, errors.New("redis down")
		}

		Expect(post(`{"type": "changegroup.1"}`).Code).To(Equal(http.StatusServiceUnavailable))
	})
})
