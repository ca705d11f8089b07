package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/owfn/service/ai"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of whole days in UTC. To is the last
// instant of its day.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

const dateRangePrompt = `Today is %s. Decide whether the user's question asks about a specific period of time.
If it does, answer with {"startDate":"YYYY-MM-DD","endDate":"YYYY-MM-DD"} covering that period.
If it does not, answer with {"startDate":null,"endDate":null}.
Answer with JSON only.

Question: %s`

// ExtractDateRange asks the model whether question refers to a period and
// returns it. Any failure, an empty answer or an inverted range yields nil.
func ExtractDateRange(ctx context.Context, gen ai.Generator, logger *slog.Logger, question string, now time.Time) *DateRange {
	zero := 0.0
	raw, err := gen.Generate(ctx, ai.Request{
		Contents: []ai.Content{{
			Role:  ai.RoleUser,
			Parts: []ai.Part{{Text: fmt.Sprintf(dateRangePrompt, now.UTC().Format(dateLayout), question)}},
		}},
		JSON:        true,
		Temperature: &zero,
	})
	if err != nil {
		logger.WarnContext(ctx, "date range extraction failed", "error", err)
		return nil
	}
	return parseDateRange(raw)
}

func parseDateRange(raw string) *DateRange {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var resp struct {
		StartDate *string `json:"startDate"`
		EndDate   *string `json:"endDate"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return nil
	}
	if resp.StartDate == nil || resp.EndDate == nil {
		return nil
	}

	from, err := time.Parse(dateLayout, *resp.StartDate)
	if err != nil {
		return nil
	}
	to, err := time.Parse(dateLayout, *resp.EndDate)
	if err != nil {
		return nil
	}
	if to.Before(from) {
		return nil
	}
	return &DateRange{From: from, To: to.Add(24*time.Hour - time.Nanosecond)}
}

// String renders the range for prompts.
func (r *DateRange) String() string {
	if r == nil {
		return "all time"
	}
	return r.From.Format(dateLayout) + " to " + r.To.Format(dateLayout)
}
