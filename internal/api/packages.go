package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/muninn/internal/export"
)

// PackageHandler serves export and import of memory packages.
type PackageHandler struct {
	exporter *export.Exporter
	importer *export.Importer
}

// NewPackageHandler creates a PackageHandler.
func NewPackageHandler(exporter *export.Exporter, importer *export.Importer) *PackageHandler {
	return &PackageHandler{exporter: exporter, importer: importer}
}

// Export handles GET /api/export. The package is offered as a download
// named after the current date.
func (p *PackageHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := export.Options{
		IncludeGraph: q.Get("graph") != "false",
	}
	if types := q.Get("type"); types != "" {
		opts.Types = strings.Split(types, ",")
	}
	if tags := q.Get("tags"); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}

	format := q.Get("format")
	if format == "" {
		format = export.FormatJSON
	}

	pkg, err := p.exporter.Export(opts)
	if err != nil {
		writeError(w, err, "export failed")
		return
	}
	data, err := export.Encode(pkg, format)
	if err != nil {
		writeError(w, err, "export failed")
		return
	}

	contentType := "application/json; charset=utf-8"
	if format == export.FormatYAML {
		contentType = "application/yaml; charset=utf-8"
	}
	name := fmt.Sprintf("memories-%s.%s", time.Now().Format("2006-01-02"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Import handles POST /api/import. The body is a package in either
// encoding; policy and dryRun come from the query string.
func (p *PackageHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot read request body"))
		return
	}
	pkg, err := export.Decode(data)
	if err != nil {
		writeError(w, err, "import decode failed")
		return
	}

	q := r.URL.Query()
	res, err := p.importer.Import(pkg, q.Get("policy"), q.Get("dryRun") == "true")
	if err != nil {
		writeError(w, err, "import failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
