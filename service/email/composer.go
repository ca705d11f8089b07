// Package email renders chat transcripts as HTML and delivers them through
// the Resend API.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/brojonat/owfn/service/chat"
)

//go:embed templates/*.html
var templateFS embed.FS

type locale struct {
	Subject   string
	Intro     string
	Footer    string
	User      string
	Assistant string
}

var locales = map[string]locale{
	"en": {
		Subject:   "Your conversation with the OWFN assistant",
		Intro:     "Here is a copy of your conversation with the OWFN assistant.",
		Footer:    "You received this email because you asked for a copy of your chat.",
		User:      "You",
		Assistant: "OWFN Assistant",
	},
	"ro": {
		Subject:   "Conversația ta cu asistentul OWFN",
		Intro:     "Iată o copie a conversației tale cu asistentul OWFN.",
		Footer:    "Ai primit acest email deoarece ai cerut o copie a conversației.",
		User:      "Tu",
		Assistant: "Asistent OWFN",
	},
	"de": {
		Subject:   "Ihr Gespräch mit dem OWFN-Assistenten",
		Intro:     "Hier ist eine Kopie Ihres Gesprächs mit dem OWFN-Assistenten.",
		Footer:    "Sie erhalten diese E-Mail, weil Sie eine Kopie Ihres Chats angefordert haben.",
		User:      "Sie",
		Assistant: "OWFN-Assistent",
	},
	"es": {
		Subject:   "Tu conversación con el asistente de OWFN",
		Intro:     "Aquí tienes una copia de tu conversación con el asistente de OWFN.",
		Footer:    "Recibes este correo porque solicitaste una copia de tu chat.",
		User:      "Tú",
		Assistant: "Asistente OWFN",
	},
	"fr": {
		Subject:   "Votre conversation avec l'assistant OWFN",
		Intro:     "Voici une copie de votre conversation avec l'assistant OWFN.",
		Footer:    "Vous recevez cet e-mail car vous avez demandé une copie de votre discussion.",
		User:      "Vous",
		Assistant: "Assistant OWFN",
	},
	"it": {
		Subject:   "La tua conversazione con l'assistente OWFN",
		Intro:     "Ecco una copia della tua conversazione con l'assistente OWFN.",
		Footer:    "Ricevi questa email perché hai richiesto una copia della chat.",
		User:      "Tu",
		Assistant: "Assistente OWFN",
	},
}

func localeFor(code string) (string, locale) {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if l, ok := locales[code]; ok {
		return code, l
	}
	return "en", locales["en"]
}

type bubble struct {
	User    bool
	Speaker string
	Lines   []string
}

type transcriptData struct {
	Lang     string
	Subject  string
	Intro    string
	Footer   string
	Messages []bubble
}

// Composer renders transcripts. It is safe for concurrent use.
type Composer struct {
	tmpl *template.Template
}

// NewComposer parses the embedded templates.
func NewComposer() (*Composer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/transcript.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Composer{tmpl: tmpl}, nil
}

// Render returns the subject and HTML body for messages in lang. Empty
// messages are skipped; unknown languages fall back to English.
func (c *Composer) Render(messages []chat.Message, lang string) (string, string, error) {
	code, l := localeFor(lang)
	data := transcriptData{
		Lang:    code,
		Subject: l.Subject,
		Intro:   l.Intro,
		Footer:  l.Footer,
	}
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		b := bubble{User: strings.EqualFold(m.Role, "user"), Speaker: l.Assistant}
		if b.User {
			b.Speaker = l.User
		}
		b.Lines = strings.Split(text, "\n")
		data.Messages = append(data.Messages, b)
	}

	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, "transcript.html", data); err != nil {
		return "", "", fmt.Errorf("failed to render transcript: %w", err)
	}
	return l.Subject, buf.String(), nil
}
