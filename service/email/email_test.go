package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transcript = []chat.Message{
	{Role: "user", Text: "Is the presale still open?"},
	{Role: "model", Text: "Yes.\nIt closes at the end of the month."},
	{Role: "user", Text: "  "},
	{Role: "user", Text: "<script>alert(1)</script>"},
}

func TestRender(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)

	subject, html, err := c.Render(transcript, "de")
	require.NoError(t, err)
	assert.Equal(t, "Ihr Gespräch mit dem OWFN-Assistenten", subject)
	assert.Contains(t, html, `<html lang="de">`)
	assert.Contains(t, html, "Hier ist eine Kopie")
	assert.Contains(t, html, "Is the presale still open?")
	assert.Contains(t, html, "<div>It closes at the end of the month.</div>")
	assert.Contains(t, html, "OWFN-Assistent")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRender_UnknownLanguageFallsBack(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)

	subject, html, err := c.Render(transcript[:1], "xx")
	require.NoError(t, err)
	assert.Equal(t, "Your conversation with the OWFN assistant", subject)
	assert.Contains(t, html, `<html lang="en">`)

	subject, _, err = c.Render(transcript[:1], "ro-RO")
	require.NoError(t, err)
	assert.Equal(t, "Conversația ta cu asistentul OWFN", subject)
}

func TestValidateRecipient(t *testing.T) {
	assert.NoError(t, ValidateRecipient("donor@example.org"))
	for _, bad := range []string{"", "not-an-email", "Bob <bob@example.org>", "a@b.c, d@e.f"} {
		var ie *InvalidRecipientError
		assert.ErrorAs(t, ValidateRecipient(bad), &ie, bad)
	}
}

func TestResend_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		var e Email
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		assert.Equal(t, []string{"donor@example.org"}, e.To)
		w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer srv.Close()

	r := NewResend("re_test", srv.URL, upstream.NewClient("resend", srv.Client(), nil, nil))
	id, err := r.Send(context.Background(), Email{From: "a@b.org", To: []string{"donor@example.org"}})
	require.NoError(t, err)
	assert.Equal(t, "msg_123", id)
}

func TestResend_Errors(t *testing.T) {
	_, err := NewResend("", "", upstream.NewClient("resend", nil, nil, nil)).Send(context.Background(), Email{})
	assert.ErrorIs(t, err, upstream.ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"domain not verified"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err = NewResend("re_test", srv.URL, upstream.NewClient("resend", srv.Client(), nil, nil)).Send(context.Background(), Email{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, upstream.StatusCode(err))
	assert.Contains(t, err.Error(), "resend request failed with status 403")
}

type fakeSender struct {
	sent []Email
	err  error
}

func (f *fakeSender) Send(ctx context.Context, e Email) (string, error) {
	f.sent = append(f.sent, e)
	return "id-1", f.err
}

func TestSendTranscript(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	sender := &fakeSender{}
	svc := NewService(c, sender, "OWFN <noreply@owfn.org>", logger, nil)

	id, err := svc.SendTranscript(context.Background(), " donor@example.org ", transcript, "es")
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "OWFN <noreply@owfn.org>", sender.sent[0].From)
	assert.Equal(t, []string{"donor@example.org"}, sender.sent[0].To)
	assert.Equal(t, "Tu conversación con el asistente de OWFN", sender.sent[0].Subject)

	_, err = svc.SendTranscript(context.Background(), "nope", transcript, "en")
	var ie *InvalidRecipientError
	assert.ErrorAs(t, err, &ie)

	_, err = svc.SendTranscript(context.Background(), "donor@example.org", nil, "en")
	require.Error(t, err)
	assert.Len(t, sender.sent, 1)

	sender.err = errors.New("boom")
	_, err = svc.SendTranscript(context.Background(), "donor@example.org", transcript, "en")
	require.Error(t, err)
}
