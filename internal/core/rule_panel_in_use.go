package core

import (
	"context"
	"fmt"

	"atlasprep/pkg/domain"
)

// NewPanelInUseRule returns the rule protecting panels referenced by recorded
// runs: deleting one is blocked and replacing its genes is reported.
func NewPanelInUseRule() domain.Rule {
	return panelInUseRule{}
}

type panelInUseRule struct{}

func (panelInUseRule) Name() string { return "panel_in_use" }

func (r panelInUseRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var usage map[string]int
	for _, change := range changes {
		if change.Entity != domain.EntityPanel {
			continue
		}
		before, ok := change.Before.(domain.PanelRecord)
		if !ok {
			continue
		}
		if usage == nil {
			usage = make(map[string]int)
			for _, run := range view.ListRuns() {
				usage[run.Panel]++
			}
		}
		runs := usage[before.Name]
		if runs == 0 {
			continue
		}
		switch change.Action {
		case domain.ActionDelete:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("panel %q is referenced by %d recorded runs", before.Name, runs),
				Entity:   domain.EntityPanel,
				EntityID: before.Name,
			})
		case domain.ActionUpdate:
			after, ok := change.After.(domain.PanelRecord)
			if ok && after.Checksum != before.Checksum {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("panel %q replaced while referenced by %d recorded runs", before.Name, runs),
					Entity:   domain.EntityPanel,
					EntityID: before.Name,
				})
			}
		}
	}
	return res, nil
}
