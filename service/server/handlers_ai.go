package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/email"
)

// handleChatbot streams an answer as newline-delimited JSON events.
// POST /api/chatbot {"history": [...], "question": "...", "langCode": "en", "currentTime": "RFC3339"}
func handleChatbot(gateway ChatService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)

		// Failures after this point are reported in-stream by the gateway.
		if err := gateway.Stream(r.Context(), req, chat.NewNDJSONWriter(w)); err != nil {
			logger.WarnContext(r.Context(), "chat stream ended with error", "error", err)
			return
		}
		logger.DebugContext(r.Context(), "chat stream completed", "lang", req.LangCode)
	})
}

// handleSummarize condenses a finished conversation.
// POST /api/summarize {"messages": [...], "langCode": "en"}
func handleSummarize(gateway ChatService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []chat.Message `json:"messages"`
			LangCode string         `json:"langCode"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := chat.ValidateMessages(req.Messages); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		summary, err := gateway.Summarize(r.Context(), req.Messages, req.LangCode)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to summarize conversation", "messages", len(req.Messages), "error", err)
			writeServiceError(w, err, "GEMINI_API_KEY", "failed to summarize conversation")
			return
		}
		writeJSON(w, map[string]string{"summary": summary}, http.StatusOK)
	})
}

// handleNarrative drafts an appeal for a social case.
// POST /api/narrative {"title": "...", "category": "...", "details": "...", "langCode": "en"}
func handleNarrative(gateway ChatService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chat.NarrativeRequest
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		text, err := gateway.Narrative(r.Context(), req)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to write narrative", "title", req.Title, "error", err)
			writeServiceError(w, err, "GEMINI_API_KEY", "failed to write narrative")
			return
		}
		writeJSON(w, map[string]string{"narrative": text}, http.StatusOK)
	})
}

// handleEmailChat emails a conversation transcript.
// POST /api/email-chat {"recipientEmail": "...", "messages": [...], "langCode": "en"}
func handleEmailChat(mailer TranscriptMailer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RecipientEmail string         `json:"recipientEmail"`
			Messages       []chat.Message `json:"messages"`
			LangCode       string         `json:"langCode"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		recipient := strings.TrimSpace(req.RecipientEmail)
		if recipient == "" {
			writeError(w, "recipientEmail is required", http.StatusBadRequest)
			return
		}
		if err := email.ValidateRecipient(recipient); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := chat.ValidateMessages(req.Messages); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := mailer.SendTranscript(r.Context(), recipient, req.Messages, req.LangCode)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to email transcript", "error", err)
			writeServiceError(w, err, "RESEND_API_KEY", "failed to send email")
			return
		}
		writeJSON(w, map[string]any{"sent": true, "message_id": id}, http.StatusOK)
	})
}
