package web

import (
	"bytes"
	"database/sql"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/najdeno/internal/model"
	webembed "github.com/erazemk/najdeno/web"
)

// pageFiles lists every page rendered inside layout.html.
var pageFiles = []string{"items.html", "item_detail.html"}

// Pages maps a page file name to its template, composed with the layout.
type Pages map[string]*template.Template

var itemTypeLabels = map[string]string{
	model.ItemTypeLost:  "Lost",
	model.ItemTypeFound: "Found",
}

var statusLabels = map[string]string{
	model.ItemStatusActive:  "Open",
	model.ItemStatusMatched: "Matched",
}

func label(labels map[string]string) func(string) string {
	return func(key string) string {
		if l, ok := labels[key]; ok {
			return l
		}
		return key
	}
}

// FuncMap returns the helpers available to page templates.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"typeName":   label(itemTypeLabels),
		"statusName": label(statusLabels),
		"date":       func(t time.Time) string { return t.UTC().Format("2 Jan 2006") },
		"percent":    func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	}
}

// ParsePages composes each page in fsys with layout.html.
func ParsePages(fsys fs.FS) (Pages, error) {
	pages := make(Pages, len(pageFiles))
	for _, name := range pageFiles {
		tmpl, err := template.New(name).Funcs(FuncMap()).ParseFS(fsys, "layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parsing page %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// LoadPages parses the embedded page templates.
func LoadPages() (Pages, error) {
	return ParsePages(webembed.Templates())
}

// Render executes a page into a buffer first, so a template error becomes
// a 500 instead of a truncated page.
func (p Pages) Render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := p[name]
	if !ok {
		slog.Error("unknown page", "page", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// PageData is embedded in every page's data.
type PageData struct {
	Title string
	Error string
}

// Server serves the read-only item pages.
type Server struct {
	DB    *sql.DB
	Pages Pages
}
