package hgmo_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/normalize"
)

// fakeHgweb serves pushes 1..last, except the ids in missing.
type fakeHgweb struct {
	last     int64
	missing  map[int64]bool
	failWith int
	requests atomic.Int32
}

func (f *fakeHgweb) entry(id int64) map[string]any {
	return map[string]any{
		"date": 1500000000 + id,
		"user": "pusher@mozilla.com",
		"changesets": []map[string]any{{
			"node":    fmt.Sprintf("%040d", id),
			"author":  "A <a@mozilla.com>",
			"desc":    fmt.Sprintf("Bug %d - change r=b", id),
			"files":   []string{"f.txt"},
			"parents": []string{fmt.Sprintf("%040d", id-1)},
		}},
	}
}

func (f *fakeHgweb) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte("hgweb is sad"))
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/json-pushes"):
		q := r.URL.Query()
		Expect(q.Get("version")).To(Equal("2"))
		Expect(q.Get("full")).To(Equal("1"))
		after, _ := strconv.ParseInt(q.Get("startID"), 10, 64)
		through, _ := strconv.ParseInt(q.Get("endID"), 10, 64)

		pushes := map[string]any{}
		for id := after + 1; id <= min(through, f.last); id++ {
			if !f.missing[id] {
				pushes[strconv.FormatInt(id, 10)] = f.entry(id)
			}
			if id == through {
				break
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"lastpushid": f.last, "pushes": pushes})

	case strings.Contains(r.URL.Path, "/json-rev/"):
		node := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if node != "deafa2891c61" {
			http.Error(w, "unknown revision", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"node":     "deafa2891c61a8cd9a2b6f6ab9bd1ef5ba4e2ae3",
			"desc":     "Bug 1 - x",
			"user":     "A <a@mozilla.com>",
			"parents":  []string{"aaa"},
			"pushid":   7,
			"pushdate": []float64{1500000007, 0},
			"pushuser": "pusher@mozilla.com",
		})

	default:
		http.NotFound(w, r)
	}
}

var _ = Describe("Client", func() {
	var (
		fake   *fakeHgweb
		server *httptest.Server
		client *hgmo.Client
		repo   string
		ctx    context.Context
	)

	BeforeEach(func() {
		fake = &fakeHgweb{last: 10, missing: map[int64]bool{4: true}}
		server = httptest.NewServer(fake)
		DeferCleanup(server.Close)
		repo = server.URL + "/mozilla-central"
		client = hgmo.NewClient(hgmo.Config{Timeout: time.Second, PageSize: 3})
		ctx = context.Background()
	})

	Describe("FetchPush", func() {
		It("returns the raw pushlog entry", func() {
			rec, err := client.FetchPush(ctx, repo, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(rec.Source).To(Equal(model.SourcePushlog))
			Expect(rec.PushID).To(Equal(int64(3)))

			push, err := normalize.Normalize(rec)
			Expect(err).ToNot(HaveOccurred())
			Expect(push.PushTimestamp).To(Equal(int64(1500000003)))
			Expect(push.Commits[0].Message).To(Equal("Bug 3 - change r=b"))
		})

		It("reports absent pushes as not found", func() {
			_, err := client.FetchPush(ctx, repo, 4)
			Expect(errors.Is(err, hgmo.ErrNotFound)).To(BeTrue())

			_, err = client.FetchPush(ctx, repo, 11)
			Expect(errors.Is(err, hgmo.ErrNotFound)).To(BeTrue())
		})

		It("surfaces server errors as transient", func() {
			fake.failWith = http.StatusServiceUnavailable
			_, err := client.FetchPush(ctx, repo, 3)

			var apiErr *hgmo.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(apiErr.Body).To(Equal("hgweb is sad"))
			Expect(hgmo.IsTransient(err)).To(BeTrue())
		})

		It("treats client errors as permanent", func() {
			fake.failWith = http.StatusBadRequest
			_, err := client.FetchPush(ctx, repo, 3)
			Expect(err).To(HaveOccurred())
			Expect(hgmo.IsTransient(err)).To(BeFalse())
		})

		It("treats an unreachable host as transient", func() {
			server.Close()
			_, err := client.FetchPush(ctx, repo, 3)
			Expect(err).To(HaveOccurred())
			Expect(hgmo.IsTransient(err)).To(BeTrue())
		})

		It("treats an unusable repository URL as permanent", func() {
			_, err := client.FetchPush(ctx, "ftp://hg.example/mozilla-central", 3)
			Expect(err).To(HaveOccurred())
			Expect(hgmo.IsTransient(err)).To(BeFalse())
		})

		It("treats a response cut off mid-body as transient", func() {
			cut := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"lastpushid": 10, "pushes": {"3": {"date": 15`))
			}))
			DeferCleanup(cut.Close)

			_, err := client.FetchPush(ctx, cut.URL+"/mozilla-central", 3)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
			Expect(hgmo.IsTransient(err)).To(BeTrue())
		})
	})

	Describe("FetchPushes", func() {
		It("pages through the range in ascending order", func() {
			records, err := client.FetchPushes(ctx, repo, 2, 9)
			Expect(err).ToNot(HaveOccurred())

			var ids []int64
			for _, rec := range records {
				ids = append(ids, rec.PushID)
			}
			Expect(ids).To(Equal([]int64{2, 3, 5, 6, 7, 8, 9}))
			Expect(fake.requests.Load()).To(Equal(int32(3)))
		})

		It("stops at the end of the pushlog", func() {
			records, err := client.FetchPushes(ctx, repo, 9, 100)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(fake.requests.Load()).To(Equal(int32(1)))
		})

		It("walks a range ending at the last representable id", func() {
			fake.last = math.MaxInt64
			fake.missing = map[int64]bool{math.MaxInt64 - 2: true}

			records, err := client.FetchPushes(ctx, repo, math.MaxInt64-4, math.MaxInt64)
			Expect(err).ToNot(HaveOccurred())

			var ids []int64
			for _, rec := range records {
				ids = append(ids, rec.PushID)
			}
			Expect(ids).To(Equal([]int64{math.MaxInt64 - 4, math.MaxInt64 - 3, math.MaxInt64 - 1, math.MaxInt64}))
			Expect(fake.requests.Load()).To(Equal(int32(2)))
		})

		It("rejects inverted ranges", func() {
			_, err := client.FetchPushes(ctx, repo, 5, 4)
			Expect(err).To(HaveOccurred())
		})
	})

	It("reads the pushlog head", func() {
		last, err := client.LastPushID(ctx, repo)
		Expect(err).ToNot(HaveOccurred())
		Expect(last).To(Equal(int64(10)))
	})

	Describe("FetchChangeset", func() {
		It("returns the changeset and its push", func() {
			cs, err := client.FetchChangeset(ctx, repo+"/", "deafa2891c61")
			Expect(err).ToNot(HaveOccurred())
			Expect(cs.PushID).To(Equal(int64(7)))
			Expect(cs.Node).To(HavePrefix("deafa2891c61"))
		})

		It("maps 404 to not found", func() {
			_, err := client.FetchChangeset(ctx, repo, "ffffffffffff")
			Expect(errors.Is(err, hgmo.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("PagedSource", func() {
		It("serves consecutive ids from one request per page", func() {
			source := hgmo.NewPagedSource(client)
			for id := int64(1); id <= 6; id++ {
				_, err := source.FetchPush(ctx, repo, id)
				if id == 4 {
					Expect(errors.Is(err, hgmo.ErrNotFound)).To(BeTrue())
					continue
				}
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(fake.requests.Load()).To(Equal(int32(2)))
		})

		It("loads the page holding the last representable id", func() {
			fake.last = math.MaxInt64
			source := hgmo.NewPagedSource(client)

			rec, err := source.FetchPush(ctx, repo, math.MaxInt64)
			Expect(err).ToNot(HaveOccurred())
			Expect(rec.PushID).To(Equal(int64(math.MaxInt64)))
			Expect(fake.requests.Load()).To(Equal(int32(1)))
		})

		It("retries a page whose load failed", func() {
			source := hgmo.NewPagedSource(client)
			fake.failWith = http.StatusBadGateway
			_, err := source.FetchPush(ctx, repo, 1)
			Expect(hgmo.IsTransient(err)).To(BeTrue())

			fake.failWith = 0
			rec, err := source.FetchPush(ctx, repo, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(rec.PushID).To(Equal(int64(1)))
		})
	})
})
