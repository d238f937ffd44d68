package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a reusable title/body pair with {{key}} placeholders.
type Template struct {
	ID    string
	Type  string
	Title string
	Body  string
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    "appointment-initiated",
			Type:  TypeAppointment,
			Title: "Appointment requested",
			Body:  "An appointment for {{date}} at {{time}} has been requested and is awaiting confirmation.",
		},
		{
			ID:    "appointment-confirmed",
			Type:  TypeAppointment,
			Title: "Appointment confirmed",
			Body:  "Your appointment on {{date}} at {{time}} has been confirmed.",
		},
		{
			ID:    "appointment-cancelled",
			Type:  TypeAppointment,
			Title: "Appointment cancelled",
			Body:  "The appointment on {{date}} at {{time}} has been cancelled.{{#reason}} Reason: {{reason}}{{/reason}}",
		},
		{
			ID:    "appointment-completed",
			Type:  TypeAppointment,
			Title: "Appointment completed",
			Body:  "The appointment on {{date}} at {{time}} has been marked as completed.",
		},
		{
			ID:    "appointment-reminder",
			Type:  TypeReminder,
			Title: "Upcoming appointment",
			Body:  "Reminder: you have a {{kind}} appointment on {{date}} at {{time}}.",
		},
		{
			ID:    "new-message",
			Type:  TypeMessage,
			Title: "New message",
			Body:  "{{preview}}",
		},
		{
			ID:    "payment-completed",
			Type:  TypePayment,
			Title: "Payment received",
			Body:  "Your payment of {{amount}} {{currency}} (ref {{tx_ref}}) was successful.",
		},
		{
			ID:    "payment-failed",
			Type:  TypePayment,
			Title: "Payment failed",
			Body:  "Your payment of {{amount}} {{currency}} (ref {{tx_ref}}) could not be completed.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement. Keys
// absent from data are left as-is. A {{#key}}...{{/key}} section is kept only
// when data[key] is non-empty.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", templateID)
	}

	out := *t
	out.Title = renderSections(out.Title, data)
	out.Body = renderSections(out.Body, data)
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		out.Title = strings.ReplaceAll(out.Title, placeholder, v)
		out.Body = strings.ReplaceAll(out.Body, placeholder, v)
	}
	return out, nil
}

func renderSections(s string, data map[string]string) string {
	for {
		start := strings.Index(s, "{{#")
		if start < 0 {
			return s
		}
		nameEnd := strings.Index(s[start:], "}}")
		if nameEnd < 0 {
			return s
		}
		key := s[start+3 : start+nameEnd]
		closeTag := "{{/" + key + "}}"
		innerStart := start + nameEnd + 2
		end := strings.Index(s[innerStart:], closeTag)
		if end < 0 {
			return s
		}
		inner := s[innerStart : innerStart+end]
		if data[key] == "" {
			inner = ""
		}
		s = s[:start] + inner + s[innerStart+end+len(closeTag):]
	}
}
