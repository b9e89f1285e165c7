package memory

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mini-swe-agent/mini-swe-agent/pkg/models"
)

// LogEntry is the role/content pair Capture scans for capturable content.
// It mirrors agentloop.Message's two exported fields that matter here
// without importing internal/agentloop, which keeps this package usable
// independently of the agent loop and avoids an import cycle (config, which
// agentloop depends on, also carries this package's configuration).
type LogEntry struct {
	Role    string
	Content string
}

// MemoryCategory categorizes captured memories.
type MemoryCategory string

const (
	CategoryPreference MemoryCategory = "preference"
	CategoryFact       MemoryCategory = "fact"
	CategoryDecision   MemoryCategory = "decision"
	CategoryEntity     MemoryCategory = "entity"
	CategoryOther      MemoryCategory = "other"
)

// AutoCaptureConfig configures automatic memory capture from a finished run.
type AutoCaptureConfig struct {
	// Enabled enables auto-capture of transcript content.
	Enabled bool `yaml:"enabled"`

	// MaxCapturesPerRun limits captures per agent run (default: 3).
	MaxCapturesPerRun int `yaml:"max_captures_per_run"`

	// MinContentLength is the minimum text length to consider (default: 10).
	MinContentLength int `yaml:"min_content_length"`

	// MaxContentLength is the maximum text length to consider (default: 500).
	MaxContentLength int `yaml:"max_content_length"`

	// DuplicateThreshold is the similarity score above which content is considered duplicate (default: 0.95).
	DuplicateThreshold float32 `yaml:"duplicate_threshold"`

	// DefaultImportance is the importance score for auto-captured memories (default: 0.7).
	DefaultImportance float32 `yaml:"default_importance"`
}

// AutoRecallConfig configures automatic memory recall before a run starts.
type AutoRecallConfig struct {
	// Enabled enables auto-recall of relevant memories.
	Enabled bool `yaml:"enabled"`

	// MaxResults is the maximum number of memories to inject (default: 3).
	MaxResults int `yaml:"max_results"`

	// MinScore is the minimum similarity score for recall (default: 0.3).
	MinScore float32 `yaml:"min_score"`

	// MinQueryLength is the minimum task length to trigger recall (default: 5).
	MinQueryLength int `yaml:"min_query_length"`
}

// Recorder captures and recalls memories around an agent run. Unlike the
// rest of the package it is not a hook into an event bus: mini-swe-agent's
// loop has no plugin system, so the CLI calls Recall before Run and Capture
// after it returns, directly.
type Recorder struct {
	manager       *Manager
	captureConfig AutoCaptureConfig
	recallConfig  AutoRecallConfig
	logger        *slog.Logger
}

// NewRecorder creates a Recorder bound to manager. manager may be nil, in
// which case Recall and Capture are no-ops, letting callers wire a Recorder
// unconditionally and let the Enabled flags (or a nil manager) decide
// whether anything actually happens.
func NewRecorder(manager *Manager, captureConfig AutoCaptureConfig, recallConfig AutoRecallConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	if captureConfig.MaxCapturesPerRun == 0 {
		captureConfig.MaxCapturesPerRun = 3
	}
	if captureConfig.MinContentLength == 0 {
		captureConfig.MinContentLength = 10
	}
	if captureConfig.MaxContentLength == 0 {
		captureConfig.MaxContentLength = 500
	}
	if captureConfig.DuplicateThreshold == 0 {
		captureConfig.DuplicateThreshold = 0.95
	}
	if captureConfig.DefaultImportance == 0 {
		captureConfig.DefaultImportance = 0.7
	}

	if recallConfig.MaxResults == 0 {
		recallConfig.MaxResults = 3
	}
	if recallConfig.MinScore == 0 {
		recallConfig.MinScore = 0.3
	}
	if recallConfig.MinQueryLength == 0 {
		recallConfig.MinQueryLength = 5
	}

	return &Recorder{
		manager:       manager,
		captureConfig: captureConfig,
		recallConfig:  recallConfig,
		logger:        logger.With("component", "memory-recorder"),
	}
}

// Capture scans a finished run's message log for capturable content
// (preferences, decisions, facts the task surfaced) and indexes it scoped to
// instanceID/agentID. It never fails the run: errors are logged and
// swallowed, matching mini-swe-agent's principle that an optional subsystem
// degrading gracefully beats an otherwise-successful run erroring out.
func (r *Recorder) Capture(ctx context.Context, instanceID, agentID string, log []LogEntry) {
	if r == nil || r.manager == nil || !r.captureConfig.Enabled {
		return
	}

	var capturable []captureCandidate
	for _, msg := range log {
		if msg.Content == "" {
			continue
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if shouldCapture(msg.Content, r.captureConfig) {
			capturable = append(capturable, captureCandidate{
				content:  msg.Content,
				category: detectCategory(msg.Content),
				role:     msg.Role,
			})
		}
	}
	if len(capturable) == 0 {
		return
	}
	if len(capturable) > r.captureConfig.MaxCapturesPerRun {
		capturable = capturable[:r.captureConfig.MaxCapturesPerRun]
	}

	stored := 0
	for _, candidate := range capturable {
		isDuplicate, err := r.checkDuplicate(ctx, candidate.content, instanceID)
		if err != nil {
			r.logger.Warn("duplicate check failed", "error", err)
			continue
		}
		if isDuplicate {
			r.logger.Debug("skipping duplicate memory", "content", truncate(candidate.content, 50))
			continue
		}

		entry := &models.MemoryEntry{
			ID:         uuid.New().String(),
			InstanceID: instanceID,
			AgentID:    agentID,
			Content:    candidate.content,
			Metadata: models.MemoryMetadata{
				Source: "auto-capture",
				Role:   candidate.role,
				Tags:   []string{string(candidate.category)},
				Extra: map[string]any{
					"category":   string(candidate.category),
					"importance": r.captureConfig.DefaultImportance,
				},
			},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		if err := r.manager.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
			r.logger.Warn("failed to store memory", "error", err)
			continue
		}
		stored++
	}

	if stored > 0 {
		r.logger.Info("auto-captured memories", "count", stored, "instance", instanceID)
	}
}

// Close releases the underlying manager's storage backend, if any.
func (r *Recorder) Close() error {
	if r == nil || r.manager == nil {
		return nil
	}
	return r.manager.Close()
}

// Recall searches for memories relevant to task and renders them as a block
// of context text to prepend to the instance template, or "" if recall is
// disabled, the manager is nil, the task is too short, or nothing relevant
// was found.
func (r *Recorder) Recall(ctx context.Context, instanceID, agentID, task string) string {
	if r == nil || r.manager == nil || !r.recallConfig.Enabled {
		return ""
	}
	if len(task) < r.recallConfig.MinQueryLength {
		return ""
	}

	var (
		results *models.SearchResponse
		err     error
	)
	if r.manager.config != nil && r.manager.config.Search.Hierarchy.Enabled {
		results, err = r.manager.SearchHierarchical(ctx, &HierarchyRequest{
			Query:      task,
			Limit:      r.recallConfig.MaxResults,
			Threshold:  r.recallConfig.MinScore,
			InstanceID: instanceID,
			AgentID:    agentID,
		})
	} else {
		results, err = r.manager.Search(ctx, &models.SearchRequest{
			Query:     task,
			Limit:     r.recallConfig.MaxResults,
			Threshold: r.recallConfig.MinScore,
			Scope:     models.ScopeInstance,
			ScopeID:   instanceID,
		})
	}
	if err != nil {
		r.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	if results == nil || len(results.Results) == 0 {
		return ""
	}

	var lines []string
	for _, result := range results.Results {
		category := "memory"
		if tags := result.Entry.Metadata.Tags; len(tags) > 0 {
			category = tags[0]
		}
		lines = append(lines, "- ["+category+"] "+result.Entry.Content)
	}

	r.logger.Debug("recalled memories", "count", len(results.Results), "instance", instanceID)

	return "<relevant-memories>\nThe following memories may be relevant to this task:\n" +
		strings.Join(lines, "\n") + "\n</relevant-memories>"
}

// checkDuplicate checks if similar content already exists in memory.
func (r *Recorder) checkDuplicate(ctx context.Context, content, instanceID string) (bool, error) {
	results, err := r.manager.Search(ctx, &models.SearchRequest{
		Query:     content,
		Limit:     1,
		Threshold: r.captureConfig.DuplicateThreshold,
		Scope:     models.ScopeInstance,
		ScopeID:   instanceID,
	})
	if err != nil {
		return false, err
	}
	return results != nil && len(results.Results) > 0, nil
}

// captureCandidate represents content that may be captured.
type captureCandidate struct {
	content  string
	category MemoryCategory
	role     string
}

// memoryTriggers are the text patterns that mark a message as worth
// remembering: explicit requests, preferences, decisions, contact details,
// personal facts, and anything the transcript flags as important.
var memoryTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)remember`),
	regexp.MustCompile(`(?i)i (like|prefer|hate|love|want|need|always|never)`),
	regexp.MustCompile(`(?i)(we|i) (decided|will use|are going to)`),
	regexp.MustCompile(`\+\d{10,}`),
	regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w{2,}`),
	regexp.MustCompile(`(?i)my\s+\w+\s+is|is\s+my`),
	regexp.MustCompile(`(?i)important|crucial|key point`),
}

// shouldCapture determines if content should be captured as a memory.
func shouldCapture(text string, cfg AutoCaptureConfig) bool {
	if len(text) < cfg.MinContentLength || len(text) > cfg.MaxContentLength {
		return false
	}
	if strings.Contains(text, "<relevant-memories>") {
		return false
	}
	if strings.HasPrefix(text, "<") && strings.Contains(text, "</") {
		return false
	}
	if strings.Contains(text, "**") && strings.Contains(text, "\n-") {
		return false
	}
	if countEmojis(text) > 3 {
		return false
	}
	for _, pattern := range memoryTriggers {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// detectCategory determines the category of content.
func detectCategory(text string) MemoryCategory {
	lower := strings.ToLower(text)

	if regexp.MustCompile(`(?i)prefer|like|love|hate|want`).MatchString(lower) {
		return CategoryPreference
	}
	if regexp.MustCompile(`(?i)decided|will use`).MatchString(lower) {
		return CategoryDecision
	}
	if regexp.MustCompile(`(?i)\+\d{10,}|@[\w.-]+\.\w+|is called`).MatchString(lower) {
		return CategoryEntity
	}
	if regexp.MustCompile(`(?i)\b(is|are|has|have)\b`).MatchString(lower) {
		return CategoryFact
	}
	return CategoryOther
}

// countEmojis counts emoji characters in text.
func countEmojis(text string) int {
	count := 0
	for _, r := range text {
		if (r >= 0x1F300 && r <= 0x1F9FF) ||
			(r >= 0x2600 && r <= 0x26FF) ||
			(r >= 0x2700 && r <= 0x27BF) {
			count++
		}
	}
	return count
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
