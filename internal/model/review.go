package model

// ReviewSystem is the code-review system a commit went through.
// The string values are part of the ping wire format.
type ReviewSystem string

const (
	ReviewSystemNone               ReviewSystem = "none"
	ReviewSystemNotApplicable      ReviewSystem = "not_applicable"
	ReviewSystemPhabricator        ReviewSystem = "phabricator"
	ReviewSystemReviewBoard        ReviewSystem = "reviewboard"
	ReviewSystemBugzillaAttachment ReviewSystem = "bugzilla_attachment"
)

func (s ReviewSystem) IsValid() bool {
	switch s {
	case ReviewSystemNone,
		ReviewSystemNotApplicable,
		ReviewSystemPhabricator,
		ReviewSystemReviewBoard,
		ReviewSystemBugzillaAttachment:
		return true
	}
	return false
}

// ReviewClassification is the classifier verdict for one commit.
// ReviewID is empty when the system carries no identifier.
type ReviewClassification struct {
	System   ReviewSystem
	ReviewID string
}

func (c ReviewClassification) HasReviewID() bool {
	return c.ReviewID != ""
}
