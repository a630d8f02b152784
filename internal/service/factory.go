package service

import (
	"log/slog"

	"basegraph.app/committelemetry/internal/queue"
)

type ServicesConfig struct {
	Lookup      ChangesetLookup
	Builder     PingBuilder
	Producer    queue.Producer
	DefaultRepo string
	Logger      *slog.Logger
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Inspect() InspectService {
	return NewInspectService(s.cfg.Lookup, s.cfg.Builder, s.cfg.DefaultRepo)
}

// PushIntake is nil when the server runs without a queue.
func (s *Services) PushIntake() PushIntakeService {
	if s.cfg.Producer == nil {
		return nil
	}
	return NewPushIntakeService(s.cfg.Producer, s.cfg.Logger)
}
