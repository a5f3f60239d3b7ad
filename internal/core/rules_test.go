package core

import (
	"context"
	"strings"
	"testing"

	"atlasprep/pkg/domain"
	"atlasprep/pkg/reference"
)

type stubView struct {
	panels map[string]domain.PanelRecord
	runs   []domain.RunRecord
}

func (v stubView) ListPanels() []domain.PanelRecord {
	out := make([]domain.PanelRecord, 0, len(v.panels))
	for _, p := range v.panels {
		out = append(out, p)
	}
	return out
}

func (v stubView) FindPanel(name string) (domain.PanelRecord, bool) {
	p, ok := v.panels[name]
	return p, ok
}

func (v stubView) ListRuns() []domain.RunRecord { return v.runs }

func (v stubView) FindRun(id string) (domain.RunRecord, bool) {
	for _, r := range v.runs {
		if r.ID == id {
			return r, true
		}
	}
	return domain.RunRecord{}, false
}

func storedPanel() domain.PanelRecord {
	return domain.PanelRecord{Name: "hlca", Checksum: "abc", Genes: []reference.Gene{{ID: "1", Symbol: "a"}, {ID: "2", Symbol: "b"}}}
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	engine := NewDefaultRulesEngine()
	var names []string
	for _, r := range engine.Rules() {
		names = append(names, r.Name())
	}
	if strings.Join(names, ",") != "run_consistency,panel_in_use" {
		t.Fatalf("unexpected rules: %v", names)
	}
	if len(NewRulesEngine().Rules()) != 0 {
		t.Fatalf("expected empty engine")
	}
}

func TestRunConsistencyRule(t *testing.T) {
	view := stubView{panels: map[string]domain.PanelRecord{"hlca": storedPanel()}}
	rule := NewRunConsistencyRule()
	cases := []struct {
		name     string
		run      domain.RunRecord
		blocking int
	}{
		{"consistent", domain.RunRecord{ID: "r", Panel: "hlca", PanelSum: "abc", PanelSize: 2, Found: 1, Padded: 1, Status: domain.RunSucceeded}, 0},
		{"failed runs are exempt", domain.RunRecord{ID: "r", Panel: "gone", Status: domain.RunFailed}, 0},
		{"coverage gap", domain.RunRecord{ID: "r", Panel: "hlca", PanelSum: "abc", PanelSize: 2, Found: 1, Status: domain.RunSucceeded}, 1},
		{"missing panel", domain.RunRecord{ID: "r", Panel: "gone", PanelSize: 0, Status: domain.RunSucceeded}, 1},
		{"checksum drift", domain.RunRecord{ID: "r", Panel: "hlca", PanelSum: "zzz", PanelSize: 2, Found: 2, Status: domain.RunSucceeded}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), view, []domain.Change{{Entity: domain.EntityRun, Action: domain.ActionCreate, After: tc.run}})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if len(res.Violations) != tc.blocking {
				t.Fatalf("expected %d violations, got %+v", tc.blocking, res.Violations)
			}
			if tc.blocking > 0 && !res.HasBlocking() {
				t.Fatalf("expected blocking severity")
			}
		})
	}
}

func TestPanelInUseRule(t *testing.T) {
	view := stubView{runs: []domain.RunRecord{{ID: "r1", Panel: "hlca"}, {ID: "r2", Panel: "hlca"}}}
	rule := NewPanelInUseRule()
	ctx := context.Background()

	res, err := rule.Evaluate(ctx, view, []domain.Change{{Entity: domain.EntityPanel, Action: domain.ActionDelete, Before: storedPanel()}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() || !strings.Contains(res.Violations[0].Message, "2 recorded runs") {
		t.Fatalf("expected blocking violation, got %+v", res.Violations)
	}

	replaced := storedPanel()
	replaced.Checksum = "new"
	res, err = rule.Evaluate(ctx, view, []domain.Change{{Entity: domain.EntityPanel, Action: domain.ActionUpdate, Before: storedPanel(), After: replaced}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.HasBlocking() || len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected a single warning, got %+v", res.Violations)
	}

	res, _ = rule.Evaluate(ctx, stubView{}, []domain.Change{{Entity: domain.EntityPanel, Action: domain.ActionDelete, Before: storedPanel()}})
	if len(res.Violations) != 0 {
		t.Fatalf("unreferenced panel should be deletable, got %+v", res.Violations)
	}
}
