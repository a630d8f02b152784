package normalize_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/normalize"
)

const inlineMessage = `{
  "payload": {
    "type": "changegroup.1",
    "data": {
      "repo_url": "https://hg.mozilla.org/integration/autoland/",
      "heads": ["ebe99842f5f8d543e5453ce78b1eae3641830b13"],
      "pushlog_pushes": [{
        "pushid": 64752,
        "time": 1527872156,
        "user": "someuser@mozilla.org",
        "push_json_url": "https://hg.mozilla.org/integration/autoland/json-pushes?version=2&startID=64751&endID=64752",
        "changesets": [
          {"node": "aaa111", "author": "A <a@mozilla.com>", "desc": "Bug 1 - one r=x", "files": ["a.txt"], "parents": ["000"]},
          {"node": "ebe99842f5f8d543e5453ce78b1eae3641830b13", "author": "B <b@mozilla.com>", "desc": "Bug 2 - two", "files": ["b.txt", "c.txt"], "parents": ["aaa111"]}
        ]
      }]
    }
  }
}`

const referenceMessage = `{
  "type": "changegroup.1",
  "data": {
    "repo_url": "https://hg.mozilla.org/integration/autoland",
    "heads": ["ebe99842f5f8d543e5453ce78b1eae3641830b13"],
    "pushlog_pushes": [{"pushid": 64752, "time": 1527872156, "user": "someuser@mozilla.org"}]
  }
}`

const pushlogEntry = `{
  "date": 1527872156,
  "user": "someuser@mozilla.org",
  "changesets": [
    {"node": "aaa111", "author": "A <a@mozilla.com>", "desc": "Bug 1 - one r=x", "files": ["a.txt"], "parents": ["000"], "branch": "default"},
    {"node": "ebe99842f5f8d543e5453ce78b1eae3641830b13", "author": "B <b@mozilla.com>", "desc": "Bug 2 - two", "files": ["b.txt", "c.txt"], "parents": ["aaa111"], "tags": []}
  ]
}`

func expectMalformed(err error, field string) {
	GinkgoHelper()
	var malformed *normalize.MalformedRecordError
	Expect(errors.As(err, &malformed)).To(BeTrue(), "expected MalformedRecordError, got %v", err)
	if field != "" {
		Expect(malformed.Field).To(Equal(field))
	}
}

var _ = Describe("Normalize", func() {
	Describe("queue records", func() {
		It("normalizes a notification with inline changesets", func() {
			push, err := normalize.Normalize(model.RawPushRecord{
				Source: model.SourceQueue,
				Body:   []byte(inlineMessage),
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(push.PushID).To(Equal(int64(64752)))
			Expect(push.RepoURL).To(Equal("https://hg.mozilla.org/integration/autoland"))
			Expect(push.PushTimestamp).To(Equal(int64(1527872156)))
			Expect(push.Pusher).To(Equal("someuser@mozilla.org"))
			Expect(push.Commits).To(HaveLen(2))
			Expect(push.Commits[0].Hash).To(Equal("aaa111"))
			Expect(push.Commits[1].ChangedPaths).To(Equal([]string{"b.txt", "c.txt"}))
		})

		It("selects a push by id", func() {
			_, err := normalize.Normalize(model.RawPushRecord{
				Source: model.SourceQueue,
				PushID: 99,
				Body:   []byte(inlineMessage),
			})
			expectMalformed(err, "data.pushlog_pushes")
		})

		It("rejects a reference-only push as having no commits", func() {
			_, err := normalize.Normalize(model.RawPushRecord{
				Source: model.SourceQueue,
				Body:   []byte(referenceMessage),
			})
			expectMalformed(err, "changesets")
		})

		It("reports other message types as ignored", func() {
			_, err := normalize.ParseNotification([]byte(`{"type": "pushlog.1", "data": {}}`))
			Expect(errors.Is(err, normalize.ErrIgnoredMessage)).To(BeTrue())
			Expect(normalize.IsMalformed(err)).To(BeFalse())
		})

		DescribeTable("malformed notifications",
			func(body, field string) {
				_, err := normalize.ParseNotification([]byte(body))
				expectMalformed(err, field)
			},
			Entry("not json", `not json`, ""),
			Entry("json array", `[1, 2]`, ""),
			Entry("missing type", `{"data": {}}`, "type"),
			Entry("missing repo url", `{"type": "changegroup.1", "data": {"pushlog_pushes": [{"pushid": 1, "time": 2}]}}`, "data.repo_url"),
			Entry("no pushes", `{"type": "changegroup.1", "data": {"repo_url": "https://hg/x", "pushlog_pushes": []}}`, "data.pushlog_pushes"),
			Entry("missing push id", `{"type": "changegroup.1", "data": {"repo_url": "https://hg/x", "pushlog_pushes": [{"time": 2}]}}`, "data.pushlog_pushes[0].pushid"),
			Entry("missing time", `{"type": "changegroup.1", "data": {"repo_url": "https://hg/x", "pushlog_pushes": [{"pushid": 1}]}}`, "data.pushlog_pushes[0].time"),
			Entry("push id of the wrong type", `{"type": "changegroup.1", "data": {"repo_url": "https://hg/x", "pushlog_pushes": [{"pushid": "1", "time": 2}]}}`, ""),
		)

		It("requires a single push when no id is selected", func() {
			body := `{"type": "changegroup.1", "data": {"repo_url": "https://hg/x", "pushlog_pushes": [{"pushid": 1, "time": 2}, {"pushid": 2, "time": 3}]}}`
			n, err := normalize.ParseNotification([]byte(body))
			Expect(err).ToNot(HaveOccurred())

			_, err = n.Select(0)
			expectMalformed(err, "data.pushlog_pushes")

			p, err := n.Select(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.ID()).To(Equal(int64(2)))
			Expect(p.Inline()).To(BeFalse())
		})
	})

	Describe("pushlog records", func() {
		It("normalizes a pushlog entry", func() {
			push, err := normalize.Normalize(model.RawPushRecord{
				Source:  model.SourcePushlog,
				RepoURL: "https://hg.mozilla.org/integration/autoland",
				PushID:  64752,
				Body:    []byte(pushlogEntry),
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(push.Commits).To(HaveLen(2))
			Expect(push.Commits[0].Parents).To(Equal([]string{"000"}))
		})

		DescribeTable("malformed entries",
			func(repo string, pushID int64, body, field string) {
				_, err := normalize.FromPushlogBody(repo, pushID, []byte(body))
				expectMalformed(err, field)
			},
			Entry("no push id", "https://hg/x", int64(0), pushlogEntry, "push_id"),
			Entry("no repo", "", int64(1), pushlogEntry, "repo_url"),
			Entry("no date", "https://hg/x", int64(1), `{"changesets": [{"node": "a", "desc": "b"}]}`, "date"),
			Entry("no commits", "https://hg/x", int64(1), `{"date": 1, "changesets": []}`, "changesets"),
			Entry("commit without hash", "https://hg/x", int64(1), `{"date": 1, "changesets": [{"desc": "b"}]}`, "changesets[0].node"),
			Entry("commit with blank hash", "https://hg/x", int64(1), `{"date": 1, "changesets": [{"node": " ", "desc": "b"}]}`, "changesets[0].node"),
			Entry("commit without message", "https://hg/x", int64(1), `{"date": 1, "changesets": [{"node": "a"}]}`, "changesets[0].desc"),
			Entry("invalid json", "https://hg/x", int64(1), `{`, ""),
		)

		It("keeps an empty but present message", func() {
			push, err := normalize.FromPushlogBody("https://hg/x", 1, []byte(`{"date": 1, "changesets": [{"node": "a", "desc": ""}]}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(push.Commits[0].Message).To(BeEmpty())
			Expect(push.Commits[0].ChangedPaths).To(BeEmpty())
		})
	})

	It("converges both sources on the same push", func() {
		fromQueue, err := normalize.Normalize(model.RawPushRecord{
			Source: model.SourceQueue,
			Body:   []byte(inlineMessage),
		})
		Expect(err).ToNot(HaveOccurred())

		fromPushlog, err := normalize.Normalize(model.RawPushRecord{
			Source:  model.SourcePushlog,
			RepoURL: "https://hg.mozilla.org/integration/autoland/",
			PushID:  64752,
			Body:    []byte(pushlogEntry),
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(fromQueue).To(Equal(fromPushlog))
		Expect(fromQueue.Key()).To(Equal(fromPushlog.Key()))
	})

	It("rejects unknown sources", func() {
		_, err := normalize.Normalize(model.RawPushRecord{Source: "carrier-pigeon"})
		Expect(err).To(HaveOccurred())
		Expect(normalize.IsMalformed(err)).To(BeFalse())
	})
})
