// Package web serves the embedded single-page front end.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed static/*
var staticFiles embed.FS

// RegisterStaticRoutes serves the embedded UI for all non-API routes. The
// API routes must be registered first.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}

	fileServer := http.FileServer(http.FS(staticFS))
	e.GET("/*", echo.WrapHandler(fileServer))
	return nil
}
