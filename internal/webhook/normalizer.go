package webhook

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"
)

// NormalizedMessage is the canonical form of one forwarded notification
// email, whatever encoding the mail-forwarding service used.
type NormalizedMessage struct {
	Subject string
	Body    string
	From    string
	Headers map[string]string
}

// Normalize turns a raw webhook payload into a NormalizedMessage. It never
// fails: malformed input degrades to empty fields, because even garbage must
// produce an intake record for the audit trail.
func Normalize(contentType string, raw []byte, form url.Values) NormalizedMessage {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case strings.HasPrefix(mediaType, "application/json"):
		return normalizeJSON(raw)
	case strings.HasPrefix(mediaType, "multipart/form-data"),
		strings.HasPrefix(mediaType, "application/x-www-form-urlencoded"):
		return normalizeForm(form)
	case strings.HasPrefix(mediaType, "text/plain"):
		return normalizeText(raw)
	default:
		// Unknown encodings: best-effort JSON, then raw text.
		if msg, ok := tryJSON(raw); ok {
			return msg
		}
		return normalizeText(raw)
	}
}

// jsonPayload covers the field aliases seen across mail-forwarding services.
type jsonPayload struct {
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Content string            `json:"content"`
	From    string            `json:"from"`
	Sender  string            `json:"sender"`
	Headers map[string]string `json:"headers"`
}

func normalizeJSON(raw []byte) NormalizedMessage {
	msg, ok := tryJSON(raw)
	if !ok {
		return NormalizedMessage{Headers: map[string]string{}}
	}
	return msg
}

func tryJSON(raw []byte) (NormalizedMessage, bool) {
	var payload jsonPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return NormalizedMessage{}, false
	}

	msg := NormalizedMessage{
		Subject: payload.Subject,
		Body:    firstNonEmpty(payload.Body, payload.Text, payload.HTML, payload.Content),
		From:    firstNonEmpty(payload.From, payload.Sender),
		Headers: payload.Headers,
	}
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	return msg, true
}

func normalizeForm(form url.Values) NormalizedMessage {
	msg := NormalizedMessage{
		Subject: form.Get("subject"),
		Body:    firstNonEmpty(form.Get("body"), form.Get("text"), form.Get("html"), form.Get("content")),
		From:    firstNonEmpty(form.Get("from"), form.Get("sender")),
		Headers: map[string]string{},
	}

	if headersRaw := form.Get("headers"); headersRaw != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(headersRaw), &headers); err == nil {
			msg.Headers = headers
		}
	}

	return msg
}

// normalizeText takes the whole body as the message body and promotes a
// leading "subject:" line, which is how some forwarders encode the subject in
// plain text.
func normalizeText(raw []byte) NormalizedMessage {
	body := string(raw)
	msg := NormalizedMessage{
		Body:    body,
		Headers: map[string]string{},
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 8 && strings.EqualFold(trimmed[:8], "subject:") {
			msg.Subject = strings.TrimSpace(trimmed[8:])
			break
		}
	}

	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
