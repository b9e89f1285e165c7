package templates

import (
	"strings"
	"testing"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("expected non-nil engine")
	}
	if engine.FuncMap == nil {
		t.Error("FuncMap should be initialized")
	}
	if engine.LeftDelim != "{{" || engine.RightDelim != "}}" {
		t.Errorf("unexpected delimiters %q %q", engine.LeftDelim, engine.RightDelim)
	}
}

func TestEngine_Render(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name     string
		template string
		vars     map[string]any
		want     string
		wantErr  bool
	}{
		{name: "empty template", template: "", vars: nil, want: ""},
		{name: "no variables", template: "Hello World", vars: nil, want: "Hello World"},
		{
			name:     "simple variable",
			template: "Hello {{.Name}}",
			vars:     map[string]any{"Name": "World"},
			want:     "Hello World",
		},
		{
			name:     "multiple variables",
			template: "{{.Greeting}} {{.Name}}!",
			vars:     map[string]any{"Greeting": "Hello", "Name": "User"},
			want:     "Hello User!",
		},
		{
			name:     "missing variable is an error",
			template: "Hello {{.Missing}}",
			vars:     map[string]any{},
			wantErr:  true,
		},
		{
			name:     "unparseable template is an error",
			template: "{{.Name",
			vars:     map[string]any{"Name": "x"},
			wantErr:  true,
		},
		{
			name:     "helper function",
			template: "{{upper .Name}}",
			vars:     map[string]any{"Name": "world"},
			want:     "WORLD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Render(tt.template, tt.vars)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if !IsFormatError(err) {
					t.Errorf("expected a *FormatError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngine_ValidatePattern(t *testing.T) {
	engine := NewEngine()
	if err := engine.ValidatePattern(`^\d+$`, "123"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := engine.ValidatePattern(`^\d+$`, "abc"); err == nil {
		t.Error("expected error for non-matching pattern")
	}
}

func TestExtractVariablesFromContent(t *testing.T) {
	got := ExtractVariablesFromContent("{{.task}} did {{.output}} with {{.task}} again")
	want := []string{"task", "output"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestRenderContext_ToMap(t *testing.T) {
	rc := &RenderContext{
		Task:       "fix the bug",
		Output:     "ok",
		ReturnCode: 0,
		StepCount:  3,
		CostLimit:  1.5,
		StepLimit:  50,
		Extra:      map[string]any{"custom": "value"},
	}
	m := rc.ToMap()
	if m["task"] != "fix the bug" || m["output"] != "ok" || m["custom"] != "value" {
		t.Errorf("unexpected map: %+v", m)
	}
	if m["step_count"] != 3 || m["step_limit"] != 50 {
		t.Errorf("unexpected map: %+v", m)
	}
}

func TestEngine_Render_Indent(t *testing.T) {
	engine := NewEngine()
	got, err := engine.Render("{{indent 2 .Text}}", map[string]any{"Text": "a\nb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "  a") || !strings.Contains(got, "  b") {
		t.Errorf("expected indented lines, got %q", got)
	}
}
