package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"payguard/pkg/requestcontext"
)

// Case is a review case opened for a flagged or blocked payment.
type Case struct {
	ID         string
	CustomerID string
	Amount     float64
	Reason     string
	CreatedAt  time.Time
}

// CaseRecorder persists cases. A case written inside the decision
// transaction is kept only if that transaction commits.
type CaseRecorder interface {
	CreateCase(ctx context.Context, c Case) error
}

// CaseTool implements createCase. Reads Args.CustomerID, Amount and Reason.
type CaseTool struct {
	recorder CaseRecorder
	logger   *slog.Logger
}

func NewCaseTool(recorder CaseRecorder, logger *slog.Logger) *CaseTool {
	return &CaseTool{recorder: recorder, logger: logger}
}

func (t *CaseTool) Name() Name { return CreateCase }

func (t *CaseTool) Description() string { return "Create a case for review." }

func (t *CaseTool) Execute(ctx context.Context, args Args) (Result, error) {
	c := Case{
		ID:         "case_" + uuid.NewString(),
		CustomerID: args.CustomerID,
		Amount:     args.Amount,
		Reason:     args.Reason,
		CreatedAt:  requestcontext.Now(ctx),
	}
	if err := t.recorder.CreateCase(ctx, c); err != nil {
		if t.logger != nil {
			t.logger.WarnContext(ctx, "case creation failed", "error", err)
		}
		return Fail("Case store unavailable"), nil
	}
	if t.logger != nil {
		t.logger.InfoContext(ctx, "case created",
			"case_id", c.ID,
			"customer_id", c.CustomerID,
			"reason", c.Reason,
		)
	}
	return Ok(CaseData{CaseID: c.ID}), nil
}
