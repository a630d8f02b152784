package pipeline

import "basegraph.app/committelemetry/internal/model"

// WithClassifyFunc lets tests break the classification/commit alignment.
func WithClassifyFunc(fn func([]model.Commit) []model.ReviewClassification) Option {
	return func(p *Pipeline) { p.classify = fn }
}
