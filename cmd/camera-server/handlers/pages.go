package handlers

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type PageHandler struct {
	TemplateFS fs.FS
	Title      string
}

func (h *PageHandler) Index(c *gin.Context) {
	tmpl, err := template.ParseFS(h.TemplateFS, "templates/index.html")
	if err != nil {
		slog.Error("Failed to parse template", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, gin.H{"title": h.Title}); err != nil {
		slog.Error("Template execution error", "error", err)
	}
}
