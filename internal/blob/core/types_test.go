package core

import "testing"

func TestCleanKey(t *testing.T) {
	valid := map[string]string{
		"runs/r1/aligned.csv":    "runs/r1/aligned.csv",
		"runs//r1/./aligned.mtx": "runs/r1/aligned.mtx",
		"a..b/c":                 "a..b/c",
	}
	for in, want := range valid {
		got, err := CleanKey(in)
		if err != nil || got != want {
			t.Fatalf("CleanKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"", "  ", "/abs", "../up", "runs/../../x", `runs\x`} {
		if _, err := CleanKey(in); err == nil {
			t.Fatalf("expected CleanKey(%q) to fail", in)
		}
	}
}

func TestCloneMetadata(t *testing.T) {
	if CloneMetadata(nil) != nil {
		t.Fatalf("expected nil clone")
	}
	in := map[string]string{"run": "r1"}
	out := CloneMetadata(in)
	out["run"] = "r2"
	if in["run"] != "r1" {
		t.Fatalf("clone aliases input")
	}
}
