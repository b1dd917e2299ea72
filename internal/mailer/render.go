package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"

	fiberhtml "github.com/gofiber/template/html/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed views/*.html
var viewsFS embed.FS

const (
	briefingView = "briefing"
	testPrefix   = "[TEST] "
	testBanner   = "[TEST EMAIL]\n\n"
)

type viewData struct {
	Title   string
	Body    template.HTML
	IsTest  bool
	ReplyTo string
}

// Renderer turns a markdown briefing into the text and HTML bodies.
type Renderer struct {
	engine *fiberhtml.Engine
	md     goldmark.Markdown
	mu     sync.Mutex
}

// NewRenderer loads the embedded email views.
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, err
	}
	engine := fiberhtml.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load email views: %w", err)
	}
	return &Renderer{
		engine: engine,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
		),
	}, nil
}

// Rendered is a message ready for MIME assembly.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render builds subject, text and HTML for msg.
func (r *Renderer) Render(msg Message) (*Rendered, error) {
	body := strings.TrimSpace(msg.Markdown)

	var content bytes.Buffer
	r.mu.Lock()
	err := r.md.Convert([]byte(body), &content)
	r.mu.Unlock()
	if err != nil {
		content.Reset()
		content.WriteString("<pre>")
		content.WriteString(template.HTMLEscapeString(body))
		content.WriteString("</pre>")
	}

	subject := strings.TrimSpace(msg.Subject)
	text := body + "\n"
	if msg.IsTest {
		subject = testPrefix + subject
		text = testBanner + text
	}

	var out bytes.Buffer
	err = r.engine.Render(&out, briefingView, viewData{
		Title:   subject,
		Body:    template.HTML(content.String()),
		IsTest:  msg.IsTest,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}
	return &Rendered{Subject: subject, Text: text, HTML: out.String()}, nil
}
