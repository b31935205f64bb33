package templates

import "testing"

func TestRender(t *testing.T) {
	var r Renderer
	out, err := r.Render("reminder", "Reminder: Dr. {{.DoctorName}} at {{.Time}}.", map[string]any{
		"DoctorName": "Rao",
		"Time":       "09:00",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Reminder: Dr. Rao at 09:00." {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	var r Renderer
	if _, err := r.Render("reminder", "Hello {{.Name}}", map[string]any{}); err == nil {
		t.Fatal("expected missing-key error")
	}
}

func TestRenderEmptyTemplateFails(t *testing.T) {
	var r Renderer
	if _, err := r.Render("empty", "", nil); err == nil {
		t.Fatal("expected error for empty template")
	}
}
