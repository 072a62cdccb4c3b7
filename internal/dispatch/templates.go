package dispatch

import (
	"bytes"
	"fmt"
	"text/template"

	"orderbot_backend/internal/suppression"
)

// Renderer produces the outbound message body for a message type.
type Renderer interface {
	Render(messageType suppression.MessageType, order Order) (string, error)
}

// defaultTemplates are the built-in message bodies. Orders come from a
// Dutch storefront, so the customer-facing copy is Dutch.
var defaultTemplates = map[suppression.MessageType]string{
	suppression.TypeNewOrder: "Hallo {{.CustomerName}}! Bedankt voor je bestelling ({{.ID}}: {{.Product}}). " +
		"We nemen zo snel mogelijk contact met je op om alles te bevestigen.",
	suppression.TypeNoAnswer: "Hallo {{.CustomerName}}, we probeerden je te bellen over bestelling {{.ID}} " +
		"maar kregen geen gehoor. Wanneer kunnen we je het beste bereiken?",
	suppression.TypeShipped: "Goed nieuws {{.CustomerName}}! Je bestelling {{.ID}} ({{.Product}}) is verzonden " +
		"en komt binnenkort aan.",
	suppression.TypeRejectedOffer: "Hallo {{.CustomerName}}, je hebt ons aanbod voor bestelling {{.ID}} afgewezen. " +
		"Mocht je je bedenken, dan horen we het graag.",
	suppression.TypeReminder: "Hallo {{.CustomerName}}, een korte herinnering over je bestelling {{.ID}}. " +
		"We horen graag van je hoe je verder wilt.",
	suppression.TypeFollowUp: "Hallo {{.CustomerName}}, heb je ons vorige bericht over bestelling {{.ID}} gezien? " +
		"Laat gerust weten of je nog vragen hebt.",
}

// TemplateRenderer renders bodies from text templates parsed once at
// construction.
type TemplateRenderer struct {
	templates map[suppression.MessageType]*template.Template
}

// NewTemplateRenderer parses the built-in templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	parsed := make(map[suppression.MessageType]*template.Template, len(defaultTemplates))
	for mt, body := range defaultTemplates {
		tmpl, err := template.New(string(mt)).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", mt, err)
		}
		parsed[mt] = tmpl
	}
	return &TemplateRenderer{templates: parsed}, nil
}

func (r *TemplateRenderer) Render(messageType suppression.MessageType, order Order) (string, error) {
	tmpl, ok := r.templates[messageType]
	if !ok {
		return "", fmt.Errorf("no template for message type %s", messageType)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, order); err != nil {
		return "", fmt.Errorf("render %s template: %w", messageType, err)
	}
	return buf.String(), nil
}
