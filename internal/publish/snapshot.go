// Package publish envia cada conta persistida para o NATS.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

const DefaultSubject = "sgcc.electricity.snapshot"

// Publisher é o pedaço do *nats.Conn que usamos.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Snapshot é o payload publicado.
type Snapshot struct {
	RunID       string         `json:"run_id"`
	CollectedAt time.Time      `json:"collected_at"`
	InArrears   bool           `json:"in_arrears"`
	Account     *model.Account `json:"account"`
	Failures    []Failure      `json:"failures,omitempty"`
}

type Failure struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func NewSnapshot(runID string, acc *model.Account, at time.Time) Snapshot {
	snap := Snapshot{
		RunID:       runID,
		CollectedAt: at.UTC(),
		InArrears:   acc.InArrears(),
		Account:     acc,
	}
	for _, f := range acc.Failures {
		snap.Failures = append(snap.Failures, Failure{Field: f.Field, Kind: f.Kind.String(), Error: f.Err.Error()})
	}
	return snap
}

type SnapshotPublisher struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewSnapshotPublisher(pub Publisher, subject string, logger *slog.Logger) *SnapshotPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotPublisher{pub: pub, subject: subject, logger: logger.With("component", "publish")}
}

func (p *SnapshotPublisher) Publish(runID string, acc *model.Account) error {
	data, err := json.Marshal(NewSnapshot(runID, acc, time.Now()))
	if err != nil {
		return fmt.Errorf("erro marshal snapshot %s: %w", acc.ID, err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("erro publicando snapshot %s: %w", acc.ID, err)
	}
	p.logger.Debug("snapshot publicado", "account", acc.ID, "subject", p.subject)
	return nil
}
