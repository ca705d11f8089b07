package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/owfn/service/ai"
	"github.com/brojonat/owfn/service/metrics"
)

const (
	maxQuestionLength = 4000
	maxTranscript     = 200

	msgBlocked     = "The response was blocked by safety filters."
	msgUnavailable = "The assistant is unavailable right now. Please try again later."
)

// Request is a chat turn from the client.
type Request struct {
	History     []ai.Content `json:"history"`
	Question    string       `json:"question"`
	LangCode    string       `json:"langCode"`
	CurrentTime string       `json:"currentTime"`
}

// Validate checks the fields the gateway cannot do without.
func (r Request) Validate() error {
	q := strings.TrimSpace(r.Question)
	if q == "" {
		return errors.New("question is required")
	}
	if len(q) > maxQuestionLength {
		return fmt.Errorf("question must be at most %d characters", maxQuestionLength)
	}
	return nil
}

// Message is one line of a finished conversation, as kept by the client.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Speaker names the author of a message for transcripts.
func (m Message) Speaker() string {
	if strings.EqualFold(m.Role, "user") {
		return "User"
	}
	return "Assistant"
}

// ValidateMessages checks a transcript.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(messages) > maxTranscript {
		return fmt.Errorf("at most %d messages are accepted", maxTranscript)
	}
	return nil
}

// NarrativeRequest asks for a story describing a social case.
type NarrativeRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Details  string `json:"details"`
	LangCode string `json:"langCode"`
}

// Validate checks the narrative inputs.
func (r NarrativeRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(r.Details) == "" {
		return errors.New("details are required")
	}
	return nil
}

// Gateway answers chat, summary and narrative requests.
type Gateway struct {
	gen        ai.Generator
	stats      StatsProvider
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxHistory int
	now        func() time.Time
}

// NewGateway creates a gateway. stats may be nil, in which case the prompt
// always carries FallbackStats.
func NewGateway(gen ai.Generator, stats StatsProvider, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		gen:        gen,
		stats:      stats,
		logger:     logger,
		metrics:    m,
		maxHistory: DefaultMaxHistory,
		now:        time.Now,
	}
}

// Stream answers req, writing chunk events as the model produces text and
// then a single end event. A generation failure is written as an error event
// and also returned. Errors from w stop the stream without further writes.
func (g *Gateway) Stream(ctx context.Context, req Request, w EventWriter) error {
	if err := req.Validate(); err != nil {
		return err
	}

	now := g.now()
	if req.CurrentTime != "" {
		if t, err := time.Parse(time.RFC3339, req.CurrentTime); err == nil {
			now = t
		}
	}

	history := SanitizeHistory(req.History, g.maxHistory)
	question := strings.TrimSpace(req.Question)
	stats := g.liveStats(ctx, ExtractDateRange(ctx, g.gen, g.logger, question, now))

	contents := append(history, ai.Content{Role: ai.RoleUser, Parts: []ai.Part{{Text: question}}})
	genReq := ai.Request{
		SystemInstruction: BuildSystemPrompt(req.LangCode, now, stats),
		Contents:          contents,
	}

	var writeErr error
	chunks := 0
	err := g.gen.Stream(ctx, genReq, func(text string) error {
		if writeErr = w.WriteEvent(Event{Type: EventChunk, Text: text}); writeErr != nil {
			return writeErr
		}
		chunks++
		g.record(EventChunk)
		return nil
	})
	if writeErr != nil {
		g.logger.WarnContext(ctx, "chat client went away", "chunks", chunks, "error", writeErr)
		return writeErr
	}
	if err != nil {
		msg := msgUnavailable
		if errors.Is(err, ai.ErrSafetyBlocked) {
			msg = msgBlocked
		}
		g.logger.ErrorContext(ctx, "chat generation failed", "chunks", chunks, "error", err)
		g.record(EventError)
		if werr := w.WriteEvent(Event{Type: EventError, Message: msg}); werr != nil {
			return werr
		}
		return err
	}

	g.record(EventEnd)
	return w.WriteEvent(Event{Type: EventEnd})
}

// Summarize condenses a conversation into a few sentences in lang.
func (g *Gateway) Summarize(ctx context.Context, messages []Message, lang string) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Summarize the following conversation in %s in at most five sentences. "+
		"Focus on the questions asked and the answers given.\n\n%s", LanguageName(lang), Transcript(messages))
	summary, err := g.gen.Generate(ctx, ai.Request{
		Contents: []ai.Content{{Role: ai.RoleUser, Parts: []ai.Part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize conversation: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// Narrative writes a short appeal for a social case in the request's language.
func (g *Gateway) Narrative(ctx context.Context, req NarrativeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	category := req.Category
	if category == "" {
		category = "general"
	}
	prompt := fmt.Sprintf("Write a compassionate, honest appeal of two short paragraphs in %s for the following social case. "+
		"Do not invent facts beyond the details given.\n\nTitle: %s\nCategory: %s\nDetails: %s",
		LanguageName(req.LangCode), req.Title, category, req.Details)
	text, err := g.gen.Generate(ctx, ai.Request{
		Contents: []ai.Content{{Role: ai.RoleUser, Parts: []ai.Part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to write narrative: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Transcript renders messages as "Speaker: text" lines.
func Transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker(), text)
	}
	return b.String()
}

func (g *Gateway) liveStats(ctx context.Context, r *DateRange) Stats {
	if g.stats == nil {
		return FallbackStats()
	}
	s, err := g.stats.Stats(ctx, r)
	if err != nil {
		g.logger.WarnContext(ctx, "live stats unavailable, using fallback", "range", r.String(), "error", err)
		return FallbackStats()
	}
	return *s
}

func (g *Gateway) record(eventType string) {
	if g.metrics != nil {
		g.metrics.RecordChatEvent(eventType)
	}
}
