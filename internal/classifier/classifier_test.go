package classifier_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/committelemetry/internal/classifier"
	"basegraph.app/committelemetry/internal/model"
)

func commit(message string) model.Commit {
	return model.Commit{
		Hash:    "445d1a7b050419f0ea266b0c191001d788f7850d",
		Author:  "Test User <author@mozilla.com>",
		Message: message,
		Parents: []string{"83f4bc25eec8e4ff1b340d8a33e10baf62aa36d1"},
	}
}

var _ = Describe("Classifier", func() {
	var c *classifier.Classifier

	BeforeEach(func() {
		c = classifier.New()
	})

	Describe("Classify", func() {
		It("classifies a Phabricator revision and extracts the revision id", func() {
			result := c.Classify(commit("Bug 555 - Fix thing r=reviewer (Differential Revision: https://phabricator.example/D42)"))
			Expect(result).To(Equal(model.ReviewClassification{
				System:   model.ReviewSystemPhabricator,
				ReviewID: "D42",
			}))
		})

		It("finds the revision trailer in the message body", func() {
			msg := "Bug 1481097 - vixl: Remove workaround. r=sstangl\n\nDifferential Revision: https://phabricator.services.mozilla.com/D5506"
			Expect(c.Classify(commit(msg))).To(Equal(model.ReviewClassification{
				System:   model.ReviewSystemPhabricator,
				ReviewID: "D5506",
			}))
		})

		It("returns none for a message without markers", func() {
			Expect(c.Classify(commit("Fix thing"))).To(Equal(model.ReviewClassification{
				System: model.ReviewSystemNone,
			}))
		})

		It("returns none for an empty message", func() {
			for _, msg := range []string{"", "   ", "\n\n"} {
				Expect(c.Classify(commit(msg)).System).To(Equal(model.ReviewSystemNone))
			}
		})

		It("classifies MozReview commits with their commit id", func() {
			msg := "Bug 1447193 - Remove displayport suppression. r=mconley\n\nMozReview-Commit-ID: 4Ua7ZELu8Rc"
			Expect(c.Classify(commit(msg))).To(Equal(model.ReviewClassification{
				System:   model.ReviewSystemReviewBoard,
				ReviewID: "4Ua7ZELu8Rc",
			}))
		})

		It("classifies a reviewed bug patch as a bugzilla attachment", func() {
			msg := "Bug 1463962 - crash near null in [@ mozilla::a11y::DocAccessible::BindToDocument], r=jamie"
			Expect(c.Classify(commit(msg))).To(Equal(model.ReviewClassification{
				System:   model.ReviewSystemBugzillaAttachment,
				ReviewID: "1463962",
			}))
		})

		It("does not treat a review request as a review", func() {
			Expect(c.Classify(commit("Bug 1481097 - vixl: tidy up. r?sstangl")).System).
				To(Equal(model.ReviewSystemNone))
		})

		Context("when tokens are truncated", func() {
			It("does not report a partial Phabricator id", func() {
				result := c.Classify(commit("Fix thing (Differential Revision: https://phabricator.example/D)"))
				Expect(result).To(Equal(model.ReviewClassification{System: model.ReviewSystemNone}))
			})

			It("does not report a partial MozReview id", func() {
				result := c.Classify(commit("Fix thing\n\nMozReview-Commit-ID: 4Ua"))
				Expect(result).To(Equal(model.ReviewClassification{System: model.ReviewSystemNone}))
			})

			It("does not accept an empty reviewer annotation", func() {
				Expect(c.Classify(commit("Bug 123 - fix r=")).System).To(Equal(model.ReviewSystemNone))
			})
		})

		Context("when a message matches more than one rule", func() {
			phab := "Differential Revision: https://phabricator.services.mozilla.com/D861"
			mozreview := "MozReview-Commit-ID: 8GrmYkhZ6f9"

			It("prefers Phabricator regardless of token order", func() {
				first := c.Classify(commit("Bug 1 - a r=x\n\n" + phab + "\n" + mozreview))
				second := c.Classify(commit("Bug 1 - a r=x\n\n" + mozreview + "\n" + phab))
				Expect(first).To(Equal(second))
				Expect(first).To(Equal(model.ReviewClassification{
					System:   model.ReviewSystemPhabricator,
					ReviewID: "D861",
				}))
			})

			It("reports only the first Phabricator revision", func() {
				msg := "Differential Revision: https://phab.example/D100\nDifferential Revision: https://phab.example/D200"
				Expect(c.Classify(commit(msg)).ReviewID).To(Equal("D100"))
			})

			It("lets back-outs win over review markers", func() {
				msg := "Backed out changeset 2926745a0fee (bug 1448077) for xpcshell failures r=backout\n\n" + phab
				Expect(c.Classify(commit(msg))).To(Equal(model.ReviewClassification{
					System: model.ReviewSystemNotApplicable,
				}))
			})
		})

		Context("with changesets that need no review", func() {
			DescribeTable("back-out summaries",
				func(msg string, expected model.ReviewSystem) {
					Expect(c.Classify(commit(msg)).System).To(Equal(expected))
				},
				Entry("backed out", "Backed out 4 changesets (bug 1448077) for xpcshell failures", model.ReviewSystemNotApplicable),
				Entry("back out", "back out bug 123", model.ReviewSystemNotApplicable),
				Entry("backing out", "Backing out changeset abc", model.ReviewSystemNotApplicable),
				Entry("mentions backout mid-sentence", "Bug 1 - avoid the backed out path r=me", model.ReviewSystemBugzillaAttachment),
			)

			It("marks merges as not applicable", func() {
				merge := commit("Merge inbound to mozilla-central. a=merge")
				merge.Parents = []string{"123abc", "456def"}
				Expect(c.Classify(merge).System).To(Equal(model.ReviewSystemNotApplicable))
			})

			DescribeTable("web-platform-test syncs",
				func(msg string, expected model.ReviewSystem) {
					Expect(c.Classify(commit(msg)).System).To(Equal(expected))
				},
				Entry("wpt PR with test-only approval", "Bug 123 - [wpt PR 123] foo bar a=testonly", model.ReviewSystemNotApplicable),
				Entry("trailing text", "Bug 123 - [wpt PR 123] foo bar a=testonly extra", model.ReviewSystemNotApplicable),
				Entry("wpt PR alone", "Bug 123 - [wpt PR 123]", model.ReviewSystemNone),
				Entry("test-only approval alone", "Bug 123 - foo bar a=testonly", model.ReviewSystemNone),
			)

			It("marks commits authored by the sync bot as not applicable", func() {
				sync := commit("Bug 1 - [wpt PR 2] update")
				sync.Author = "moz-wptsync-bot <wptsync@mozilla.com>"
				Expect(c.Classify(sync).System).To(Equal(model.ReviewSystemNotApplicable))
			})
		})
	})

	Describe("Explain", func() {
		It("names the deciding rule", func() {
			_, rule := c.Explain(commit("Bug 1 - x r=y"))
			Expect(rule).To(Equal("bugzilla_attachment"))
		})

		It("returns an empty rule name when nothing matched", func() {
			_, rule := c.Explain(commit("Fix thing"))
			Expect(rule).To(BeEmpty())
		})
	})

	Describe("ClassifyAll", func() {
		It("keeps commit order", func() {
			results := c.ClassifyAll([]model.Commit{
				commit("Fix thing"),
				commit("Bug 2 - x r=y"),
			})
			Expect(results).To(HaveLen(2))
			Expect(results[0].System).To(Equal(model.ReviewSystemNone))
			Expect(results[1].System).To(Equal(model.ReviewSystemBugzillaAttachment))
		})
	})

	Describe("NewWithRules", func() {
		It("evaluates custom rules in the given order", func() {
			always := func(system model.ReviewSystem) classifier.Rule {
				return classifier.Rule{
					Name: string(system),
					Match: func(model.Commit) (model.ReviewClassification, bool) {
						return model.ReviewClassification{System: system}, true
					},
				}
			}
			custom := classifier.NewWithRules([]classifier.Rule{
				always(model.ReviewSystemReviewBoard),
				always(model.ReviewSystemPhabricator),
			})
			Expect(custom.Classify(commit("anything")).System).To(Equal(model.ReviewSystemReviewBoard))
			Expect(custom.Rules()).To(Equal([]string{"reviewboard", "phabricator"}))
		})
	})

	Describe("Summary", func() {
		It("returns the first line", func() {
			Expect(classifier.Summary("foo")).To(Equal("foo"))
			Expect(classifier.Summary("foo\nbar\nbaz")).To(Equal("foo"))
		})
	})
})
