package agentloop

import (
	"context"

	"github.com/mini-swe-agent/mini-swe-agent/internal/compaction"
	"github.com/mini-swe-agent/mini-swe-agent/internal/model"
)

// KindCompactionSummary tags the synthetic message that replaces a pruned
// run of earlier history once compaction fires.
const KindCompactionSummary MessageKind = "compaction_summary"

// modelSummarizer adapts a model.Client to compaction.Summarizer by asking
// it to summarize a formatted rendering of the messages in one query.
type modelSummarizer struct {
	client *model.Client
}

func (s *modelSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	instructions := "Summarize the shell session above concisely. Preserve concrete facts, file paths, commands that worked or failed, and any outstanding plan or decision. Drop pleasantries and restated instructions."
	if cfg != nil && cfg.CustomInstructions != "" {
		instructions = cfg.CustomInstructions
	}
	if cfg != nil && cfg.PreviousSummary != "" {
		instructions += "\n\nBuild on this prior summary rather than repeating it:\n" + cfg.PreviousSummary
	}

	resp, err := s.client.Query(ctx, []model.Message{
		{Role: "system", Content: "You compact an AI coding agent's transcript into a short running summary."},
		{Role: "user", Content: instructions + "\n\n---\n\n" + compaction.FormatMessagesForSummary(messages)},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// maybeCompact replaces the middle of a running log with a generated
// summary once the estimated token count crosses Agent.Compaction's
// threshold, leaving the leading system/instance messages and a trailing
// window of recent messages untouched. It never fails the run: a
// summarization error is logged and the full history is kept for this
// step, since losing compaction is better than losing a run.
func (l *Loop) maybeCompact(ctx context.Context, log *MessageLog) {
	cfg := l.Agent.Compaction
	if !cfg.Enabled {
		return
	}

	msgs := *log
	const headerLen = 2 // system + instance messages, always kept
	if len(msgs) <= headerLen {
		return
	}

	keepTail := cfg.KeepRecentMessages
	if keepTail <= 0 {
		keepTail = 4
	}
	if len(msgs) <= headerLen+keepTail {
		return
	}

	contextWindow := compaction.ResolveContextWindowTokens(cfg.ContextWindow, compaction.DefaultContextWindow)
	share := cfg.MaxHistoryShare
	if share <= 0 || share > 1 {
		share = 0.7
	}

	body := toCompactionMessages(msgs[headerLen:])
	threshold := int(float64(contextWindow) * share)
	if compaction.EstimateMessagesTokens(body) <= threshold {
		return
	}

	toSummarize := msgs[headerLen : len(msgs)-keepTail]
	tail := msgs[len(msgs)-keepTail:]

	sumCfg := compaction.DefaultSummarizationConfig()
	sumCfg.ContextWindow = contextWindow
	if cfg.Parts > 0 {
		sumCfg.Parts = cfg.Parts
	}

	summary, err := compaction.SummarizeInStages(ctx, toCompactionMessages(toSummarize), l.summarizer(), sumCfg)
	if err != nil {
		l.Logger.Warn(ctx, "compaction failed, continuing with full history", "error", err.Error())
		if l.Metrics != nil {
			l.Metrics.RecordCompaction("failed")
		}
		return
	}
	if l.Metrics != nil {
		l.Metrics.RecordCompaction("compacted")
	}

	compacted := make(MessageLog, 0, headerLen+1+len(tail))
	compacted = append(compacted, msgs[:headerLen]...)
	compacted = append(compacted, Message{
		Kind:    KindCompactionSummary,
		Role:    "user",
		Content: "<conversation-summary>\n" + summary + "\n</conversation-summary>",
	})
	compacted = append(compacted, tail...)

	l.Logger.Info(ctx, "compacted running history", "dropped_messages", len(toSummarize), "kept_messages", len(compacted))
	*log = compacted
}

func (l *Loop) summarizer() compaction.Summarizer {
	return &modelSummarizer{client: l.Client}
}

func toCompactionMessages(log MessageLog) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(log))
	for _, m := range log {
		if m.Kind == KindExit {
			continue
		}
		out = append(out, &compaction.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
