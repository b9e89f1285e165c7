// Package templates renders the agent's system and instance prompts with
// strict-undefined variable substitution: a template referencing an unknown
// key fails the render instead of silently producing an empty string.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatError reports a template that failed to render, either because it
// does not parse or because it referenced a variable not present in the
// render context. The agent loop treats this as a non-terminating error: it
// is folded into a user-role message so the model can retry.
type FormatError struct {
	Template string
	Cause    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("template render failed: %s", e.Cause)
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

// Engine renders prompt templates against a variable map.
type Engine struct {
	// FuncMap contains the helper functions available inside templates.
	FuncMap template.FuncMap

	// LeftDelim and RightDelim override the default {{ }} delimiters.
	LeftDelim  string
	RightDelim string
}

// NewEngine creates a template engine with the default helper functions.
func NewEngine() *Engine {
	return &Engine{
		FuncMap:    defaultFuncMap(),
		LeftDelim:  "{{",
		RightDelim: "}}",
	}
}

// Render executes tmplStr against vars. A missing key anywhere in the
// template is an error: mini-swe-agent's prompts are meant to fail loudly
// on a wiring mistake rather than emit "<no value>" into a shell command.
func (e *Engine) Render(tmplStr string, vars map[string]any) (string, error) {
	if tmplStr == "" {
		return "", nil
	}

	t := template.New("template").Funcs(e.FuncMap).Option("missingkey=error")
	if e.LeftDelim != "" && e.RightDelim != "" {
		t = t.Delims(e.LeftDelim, e.RightDelim)
	}

	parsed, err := t.Parse(tmplStr)
	if err != nil {
		return "", &FormatError{Template: tmplStr, Cause: err}
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, vars); err != nil {
		return "", &FormatError{Template: tmplStr, Cause: err}
	}
	return buf.String(), nil
}

// IsFormatError reports whether err (or something it wraps) is a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// ValidatePattern checks value against a regular expression.
func (e *Engine) ValidatePattern(pattern, value string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if !re.MatchString(value) {
		return fmt.Errorf("value does not match pattern %q", pattern)
	}
	return nil
}

// ExtractVariables returns the variable names referenced by tmplStr.
func (e *Engine) ExtractVariables(tmplStr string) []string {
	return ExtractVariablesFromContent(tmplStr)
}

func defaultFuncMap() template.FuncMap {
	titleCase := cases.Title(language.Und)
	return template.FuncMap{
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"title":      titleCase.String,
		"trim":       strings.TrimSpace,
		"trimPrefix": strings.TrimPrefix,
		"trimSuffix": strings.TrimSuffix,
		"replace":    strings.ReplaceAll,
		"contains":   strings.Contains,
		"hasPrefix":  strings.HasPrefix,
		"hasSuffix":  strings.HasSuffix,
		"split":      strings.Split,
		"join":       strings.Join,
		"repeat":     strings.Repeat,

		"default": defaultValue,
		"coalesce": func(values ...any) any {
			for _, v := range values {
				if v != nil && v != "" {
					return v
				}
			}
			return nil
		},
		"ternary": func(condition bool, trueVal, falseVal any) any {
			if condition {
				return trueVal
			}
			return falseVal
		},

		"toString": toString,
		"toInt":    toInt,
		"toBool":   toBool,

		"first": func(list []any) any {
			if len(list) > 0 {
				return list[0]
			}
			return nil
		},
		"last": func(list []any) any {
			if len(list) > 0 {
				return list[len(list)-1]
			}
			return nil
		},
		"len": func(v any) int {
			switch val := v.(type) {
			case string:
				return len(val)
			case []any:
				return len(val)
			case []string:
				return len(val)
			case map[string]any:
				return len(val)
			default:
				return 0
			}
		},

		"indent": indent,
		"nindent": func(spaces int, s string) string {
			return "\n" + indent(spaces, s)
		},
		"quote": func(s string) string {
			return fmt.Sprintf("%q", s)
		},
		"squote": func(s string) string {
			return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
		},

		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},

		"codeBlock": func(lang, code string) string {
			return fmt.Sprintf("```%s\n%s\n```", lang, code)
		},
		"bullet": func(items []string) string {
			var lines []string
			for _, item := range items {
				lines = append(lines, "- "+item)
			}
			return strings.Join(lines, "\n")
		},
		"numbered": func(items []string) string {
			var lines []string
			for i, item := range items {
				lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
			}
			return strings.Join(lines, "\n")
		},
	}
}

func defaultValue(def, value any) any {
	if value == nil {
		return def
	}
	if str, ok := value.(string); ok && str == "" {
		return def
	}
	return value
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int8:
		return int(val)
	case int16:
		return int(val)
	case int32:
		return int(val)
	case int64:
		if val > int64(math.MaxInt) {
			return math.MaxInt
		}
		if val < int64(math.MinInt) {
			return math.MinInt
		}
		return int(val)
	case uint:
		if val > uint(math.MaxInt) {
			return math.MaxInt
		}
		return int(val)
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		if val > uint64(math.MaxInt) {
			return math.MaxInt
		}
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0" && val != "no"
	case int, int8, int16, int32, int64:
		return val != 0
	case uint, uint8, uint16, uint32, uint64:
		return val != 0
	case float32, float64:
		return val != 0
	default:
		return v != nil
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractVariablesFromContent scans tmplStr for simple {{.name}} references
// and returns the distinct variable names it finds. Nested paths such as
// {{.agent.name}} contribute only the leading component.
func ExtractVariablesFromContent(content string) []string {
	var variables []string
	seen := make(map[string]struct{})

	i := 0
	for i < len(content) {
		start := strings.Index(content[i:], "{{")
		if start == -1 {
			break
		}
		start += i

		end := strings.Index(content[start:], "}}")
		if end == -1 {
			break
		}
		end += start

		expr := strings.TrimSpace(content[start+2 : end])
		if strings.HasPrefix(expr, ".") && !strings.Contains(expr, " ") {
			varName := strings.TrimPrefix(expr, ".")
			if idx := strings.Index(varName, "."); idx != -1 {
				varName = varName[:idx]
			}
			if varName != "" {
				if _, exists := seen[varName]; !exists {
					seen[varName] = struct{}{}
					variables = append(variables, varName)
				}
			}
		}

		i = end + 2
	}

	return variables
}

// RenderContext is the variable set exposed to agent prompt templates: the
// task, the environment's last observation, and the running step/cost
// counters, mirroring the placeholders mini-swe-agent's default prompts use.
type RenderContext struct {
	Task       string
	Output     string
	ReturnCode int
	StepCount  int
	CostLimit  float64
	StepLimit  int
	Extra      map[string]any
}

// ToMap flattens a RenderContext into the map Engine.Render expects.
func (rc *RenderContext) ToMap() map[string]any {
	result := map[string]any{
		"task":        rc.Task,
		"output":      rc.Output,
		"returncode":  rc.ReturnCode,
		"step_count":  rc.StepCount,
		"cost_limit":  rc.CostLimit,
		"step_limit":  rc.StepLimit,
	}
	for k, v := range rc.Extra {
		result[k] = v
	}
	return result
}
