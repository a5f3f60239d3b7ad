package core

import (
	"context"
	"fmt"

	"atlasprep/pkg/domain"
)

// NewRunConsistencyRule returns the rule checking that a recorded successful
// run accounts for every panel gene and names a stored panel whose checksum
// matches the one aligned against.
func NewRunConsistencyRule() domain.Rule {
	return runConsistencyRule{}
}

type runConsistencyRule struct{}

func (runConsistencyRule) Name() string { return "run_consistency" }

func (r runConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRun || change.Action == domain.ActionDelete {
			continue
		}
		run, ok := change.After.(domain.RunRecord)
		if !ok || run.Status != domain.RunSucceeded {
			continue
		}
		block := func(format string, args ...any) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf(format, args...),
				Entity:   domain.EntityRun,
				EntityID: run.ID,
			})
		}
		if run.Found+run.Padded != run.PanelSize {
			block("run %s: %d found + %d padded does not cover the %d-gene panel", run.ID, run.Found, run.Padded, run.PanelSize)
		}
		panel, ok := view.FindPanel(run.Panel)
		if !ok {
			block("run %s: panel %q is not stored", run.ID, run.Panel)
			continue
		}
		if panel.Checksum != run.PanelSum {
			block("run %s: panel %q checksum %s differs from stored %s", run.ID, run.Panel, short(run.PanelSum), short(panel.Checksum))
		}
	}
	return res, nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
