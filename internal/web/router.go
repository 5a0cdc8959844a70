package web

import (
	"database/sql"
	"net/http"

	webembed "github.com/erazemk/najdeno/web"
)

// NewRouter creates the web page router with all page routes registered.
func NewRouter(db *sql.DB) (http.Handler, error) {
	pages, err := LoadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{DB: db, Pages: pages}

	mux := http.NewServeMux()

	// Static assets.
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.Static()))))

	mux.HandleFunc("GET /{$}", s.ItemsPage)
	mux.HandleFunc("GET /items/{id}", s.ItemDetailPage)

	return mux, nil
}
