package blueprint

import (
	"os"
	"path/filepath"
	"testing"
)

func boolPtr(v bool) *bool { return &v }

func TestLoadMissingFileUsesDefaultPlan(t *testing.T) {
	bp := Load(t.TempDir())
	if len(bp.Steps) != 4 {
		t.Fatalf("default plan should have 4 steps, got %d", len(bp.Steps))
	}
	names := []string{"spec", "implement", "verify", "finalize"}
	for i, want := range names {
		if bp.Steps[i].Name != want {
			t.Errorf("step %d: got %q, want %q", i+1, bp.Steps[i].Name, want)
		}
		if bp.Steps[i].ID != i+1 {
			t.Errorf("step %q: id %d, want %d", want, bp.Steps[i].ID, i+1)
		}
	}
	if !bp.Steps[0].AllowsCheckpoint() || !bp.Steps[1].AllowsCheckpoint() {
		t.Error("spec and implement should allow checkpoints")
	}
	if bp.Steps[2].AllowsCheckpoint() || bp.Steps[3].AllowsCheckpoint() {
		t.Error("verify and finalize should not allow checkpoints")
	}
}

func TestLoadMalformedFileYieldsEmptyPlan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	bp := Load(dir)
	if len(bp.Steps) != 0 {
		t.Fatalf("malformed blueprint should yield no steps, got %d", len(bp.Steps))
	}
	if bp.Lookup(1) != nil {
		t.Fatal("empty plan lookup should report completion")
	}
}

func TestLoadCustomPlan(t *testing.T) {
	dir := t.TempDir()
	doc := `{"version":"1.0","steps":[
		{"id":1,"name":"draft","objective":"Write the draft","requires_test":false,"checkpoint":true},
		{"id":2,"name":"sync skill copy","objective":"Sync repo to ../skills/openclaw"}
	]}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	bp := Load(dir)
	step := bp.Lookup(1)
	if step == nil || step.Name != "draft" {
		t.Fatalf("Lookup(1): %+v", step)
	}
	if step.NeedsTest() {
		t.Error("explicit requires_test=false should win")
	}
	if !bp.Lookup(2).IsHostSync() {
		t.Error("step 2 should be detected as host sync")
	}
	if bp.Lookup(3) != nil {
		t.Error("missing id should yield nil (plan complete)")
	}
}

func TestNeedsTestDefaults(t *testing.T) {
	cases := []struct {
		name string
		step *Step
		want bool
	}{
		{"nil step", nil, true},
		{"verify by name", &Step{Name: "verify"}, true},
		{"finalize by name", &Step{Name: "finalize"}, true},
		{"implement unflagged", &Step{Name: "implement"}, false},
		{"explicit true wins", &Step{Name: "implement", RequiresTest: boolPtr(true)}, true},
		{"explicit false wins", &Step{Name: "verify", RequiresTest: boolPtr(false)}, false},
	}
	for _, tc := range cases {
		if got := tc.step.NeedsTest(); got != tc.want {
			t.Errorf("%s: NeedsTest() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsHostSyncNeedsBothTokens(t *testing.T) {
	if (&Step{Name: "sync", Objective: "push artifacts"}).IsHostSync() {
		t.Error("sync without skill token should not match")
	}
	if (&Step{Name: "publish", Objective: "update skill docs"}).IsHostSync() {
		t.Error("skill without sync token should not match")
	}
	if !(&Step{Name: "host sync", Objective: "copy into ../skills mirror"}).IsHostSync() {
		t.Error("sync plus ../skills should match")
	}
}
