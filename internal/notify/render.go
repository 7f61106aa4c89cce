package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"helpdesk.org/internal/ticket"
)

const defaultProduct = "Helpdesk"

const resolvedTemplate = `# Your ticket has been resolved

Hello,

the ticket **{{.Title}}** was marked as resolved on {{.ResolvedAt}}.

- Reference: ` + "`{{.ID}}`" + `
- Status: {{.Status}}

If the problem is not fixed, reply to this message and the {{.Product}} team will reopen it.
`

// Renderer builds resolution messages: a markdown body converted to HTML,
// with the markdown source kept as the plain-text alternative.
type Renderer struct {
	product string
	md      goldmark.Markdown
	tmpl    *template.Template
	now     func() time.Time
}

// NewRenderer returns a renderer signing messages as product.
func NewRenderer(product string) *Renderer {
	if product = strings.TrimSpace(product); product == "" {
		product = defaultProduct
	}
	return &Renderer{
		product: product,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		tmpl:    template.Must(template.New("resolved").Parse(resolvedTemplate)),
		now:     time.Now,
	}
}

// Resolved renders the notice for d addressed to recipient.
func (r *Renderer) Resolved(d *ticket.Detail, recipient string) (Message, error) {
	data := struct {
		ID, Title, Status, ResolvedAt, Product string
	}{
		ID:         d.Ticket.ID,
		Title:      escapeMarkdown(d.Ticket.Title),
		Status:     string(d.Ticket.Status),
		ResolvedAt: r.now().UTC().Format("2006-01-02 15:04 MST"),
		Product:    r.product,
	}
	var text bytes.Buffer
	if err := r.tmpl.Execute(&text, data); err != nil {
		return Message{}, err
	}
	var html bytes.Buffer
	if err := r.md.Convert(text.Bytes(), &html); err != nil {
		return Message{}, err
	}
	return Message{
		TicketID: d.Ticket.ID,
		To:       recipient,
		Subject:  fmt.Sprintf("[%s] Ticket resolved: %s", r.product, oneLine(d.Ticket.Title)),
		Text:     text.String(),
		HTML:     html.String(),
	}, nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(oneLine(s))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
