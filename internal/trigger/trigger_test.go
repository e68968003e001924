package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool { return &v }

func TestFingerprintStableAndSensitive(t *testing.T) {
	base := Fingerprint("manual", "ship it", true, "acme", "main", "shop")
	if base != Fingerprint("manual", "ship it", true, "acme", "main", "shop") {
		t.Fatal("identical fields must produce identical fingerprints")
	}
	if base != Fingerprint("  manual ", "ship it\n", true, "acme", "main", "shop") {
		t.Fatal("surrounding whitespace must not affect the fingerprint")
	}

	variants := []string{
		Fingerprint("cron", "ship it", true, "acme", "main", "shop"),
		Fingerprint("manual", "hold it", true, "acme", "main", "shop"),
		Fingerprint("manual", "ship it", false, "acme", "main", "shop"),
		Fingerprint("manual", "ship it", true, "beta", "main", "shop"),
		Fingerprint("manual", "ship it", true, "acme", "aux", "shop"),
		Fingerprint("manual", "ship it", true, "acme", "main", "web"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should differ from base fingerprint", i)
		}
	}
}

func TestIsDuplicateWindow(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	now := time.Now()

	p := &Payload{Reason: "manual", Task: "ship", ResetStep: boolPtr(true), TenantID: "acme", AgentID: "main", ProjectID: "shop"}
	if err := Write(path, p, now); err != nil {
		t.Fatalf("Write: %v", err)
	}

	fp := p.Fingerprint
	if !IsDuplicate(path, fp, 90*time.Second, now.Add(30*time.Second)) {
		t.Error("same fingerprint inside window should be a duplicate")
	}
	if IsDuplicate(path, fp, 90*time.Second, now.Add(5*time.Minute)) {
		t.Error("same fingerprint outside window should not be a duplicate")
	}
	other := Fingerprint("other", "ship", true, "acme", "main", "shop")
	if IsDuplicate(path, other, 90*time.Second, now.Add(time.Second)) {
		t.Error("different fingerprint should never be a duplicate")
	}
	if IsDuplicate(path, fp, 0, now) {
		t.Error("zero window disables suppression")
	}
	if IsDuplicate(filepath.Join(dir, "absent.json"), fp, 90*time.Second, now) {
		t.Error("missing pending trigger should not suppress")
	}
}

func TestConsumeDeletesFile(t *testing.T) {
	dir := t.TempDir()
	p := &Payload{Reason: "manual", ResetStep: boolPtr(true), TenantID: "acme", AgentID: "main", ProjectID: "shop"}
	if err := Write(Path(dir), p, time.Now()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok := Consume(dir)
	if !ok || got == nil {
		t.Fatal("expected a pending trigger")
	}
	if got.Reason != "manual" || !got.ShouldReset() || got.Fingerprint == "" {
		t.Fatalf("payload mismatch: %+v", got)
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Fatal("trigger file should be deleted after consumption")
	}
	if _, ok := Consume(dir); ok {
		t.Fatal("second consume should find nothing")
	}
}

func TestConsumeMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := Consume(dir); ok {
		t.Fatal("malformed trigger should be discarded")
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Fatal("malformed trigger file should still be deleted")
	}
}
