package classifier

import (
	"regexp"
	"strings"

	"basegraph.app/committelemetry/internal/model"
)

var (
	// "Backed out 4 changesets (bug 1448077) for xpcshell failures at..."
	backoutRE = regexp.MustCompile(`(?i)^back(ed|ing|) out `)

	// "Differential Revision: https://phabricator.services.mozilla.com/D861"
	phabricatorRE = regexp.MustCompile(`Differential Revision: (?:\S*/)?(D[0-9]+)\b`)

	// "MozReview-Commit-ID: 4Ua7ZELu8Rc"
	mozReviewRE = regexp.MustCompile(`MozReview-Commit-ID: ([0-9A-Za-z]{8,})\b`)

	bugRE      = regexp.MustCompile(`(?i)\bbug\s*#?([0-9]+)\b`)
	reviewerRE = regexp.MustCompile(`\br(?:=[\w.\-]+|\+)`)

	wptPRRE      = regexp.MustCompile(`\[wpt PR [0-9]+\]`)
	testOnlyRE   = regexp.MustCompile(`\ba=testonly\b`)
	wptSyncEmail = "wptsync@mozilla.com"
)

// Rule is one classification test. Match returns ok=false when the rule
// does not apply to the commit.
type Rule struct {
	Name  string
	Match func(c model.Commit) (model.ReviewClassification, bool)
}

// Classifier applies an ordered rule list; the first matching rule wins.
// It never fails: a commit no rule recognizes is classified as none.
type Classifier struct {
	rules []Rule
}

func New() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// NewWithRules builds a classifier over a custom rule order.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultRules returns the production rule order. Commits that need no
// review are filtered first, then review markers from the most to the least
// specific.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "empty_message", Match: matchEmpty},
		{Name: "backout", Match: matchBackout},
		{Name: "merge", Match: matchMerge},
		{Name: "wpt_sync", Match: matchWPTSync},
		{Name: "phabricator", Match: matchPhabricator},
		{Name: "reviewboard", Match: matchReviewBoard},
		{Name: "bugzilla_attachment", Match: matchBugzilla},
	}
}

func (c *Classifier) Classify(commit model.Commit) model.ReviewClassification {
	result, _ := c.Explain(commit)
	return result
}

// Explain classifies the commit and names the rule that decided it.
// The rule name is empty when nothing matched.
func (c *Classifier) Explain(commit model.Commit) (model.ReviewClassification, string) {
	for _, rule := range c.rules {
		if result, ok := rule.Match(commit); ok {
			return result, rule.Name
		}
	}
	return none(), ""
}

// ClassifyAll returns one classification per commit, in commit order.
func (c *Classifier) ClassifyAll(commits []model.Commit) []model.ReviewClassification {
	out := make([]model.ReviewClassification, len(commits))
	for i, commit := range commits {
		out[i] = c.Classify(commit)
	}
	return out
}

// Rules lists rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

func none() model.ReviewClassification {
	return model.ReviewClassification{System: model.ReviewSystemNone}
}

func notApplicable() model.ReviewClassification {
	return model.ReviewClassification{System: model.ReviewSystemNotApplicable}
}

// Summary is the first line of a commit message.
func Summary(message string) string {
	summary, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(summary)
}

func matchEmpty(c model.Commit) (model.ReviewClassification, bool) {
	if strings.TrimSpace(c.Message) == "" {
		return none(), true
	}
	return model.ReviewClassification{}, false
}

func matchBackout(c model.Commit) (model.ReviewClassification, bool) {
	if backoutRE.MatchString(Summary(c.Message)) {
		return notApplicable(), true
	}
	return model.ReviewClassification{}, false
}

func matchMerge(c model.Commit) (model.ReviewClassification, bool) {
	if c.IsMerge() {
		return notApplicable(), true
	}
	return model.ReviewClassification{}, false
}

// Web-platform-test imports are landed by a sync bot and carry a
// test-only approval instead of a review.
func matchWPTSync(c model.Commit) (model.ReviewClassification, bool) {
	if strings.Contains(c.Author, wptSyncEmail) {
		return notApplicable(), true
	}
	summary := Summary(c.Message)
	if wptPRRE.MatchString(summary) && testOnlyRE.MatchString(summary) {
		return notApplicable(), true
	}
	return model.ReviewClassification{}, false
}

func matchPhabricator(c model.Commit) (model.ReviewClassification, bool) {
	m := phabricatorRE.FindStringSubmatch(c.Message)
	if m == nil {
		return model.ReviewClassification{}, false
	}
	return model.ReviewClassification{System: model.ReviewSystemPhabricator, ReviewID: m[1]}, true
}

func matchReviewBoard(c model.Commit) (model.ReviewClassification, bool) {
	m := mozReviewRE.FindStringSubmatch(c.Message)
	if m == nil {
		return model.ReviewClassification{}, false
	}
	return model.ReviewClassification{System: model.ReviewSystemReviewBoard, ReviewID: m[1]}, true
}

// Only the first bug number in the summary counts. Bugs referenced at the
// end of a summary after another id, like "[wpt PR 10812] ... (bug 1111111)",
// still resolve to that trailing bug.
func matchBugzilla(c model.Commit) (model.ReviewClassification, bool) {
	summary := Summary(c.Message)
	bug := bugRE.FindStringSubmatch(summary)
	if bug == nil || !reviewerRE.MatchString(summary) {
		return model.ReviewClassification{}, false
	}
	return model.ReviewClassification{System: model.ReviewSystemBugzillaAttachment, ReviewID: bug[1]}, true
}
