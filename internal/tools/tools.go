// Package tools binds the document, relational and export services to the
// tool abstraction the orchestrator dispatches through.
package tools

import (
	"context"
	"strings"

	"github.com/soyeahso/querydesk/internal/docstore"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/export"
	"github.com/soyeahso/querydesk/internal/sqlstore"
	"github.com/soyeahso/querydesk/internal/tool"
)

// DownloadPath is the gateway route prefix export links point at.
const DownloadPath = "/api/exports/"

// ExportSink stores tabular results as downloadable files.
type ExportSink interface {
	Export(ctx context.Context, table export.Table, description, baseName string) (export.Ref, error)
}

// Options control which tools a registry carries.
type Options struct {
	// FixedShape adds the narrow movie tools next to mongo_query.
	FixedShape bool
	// PublicURL prefixes export download links; empty yields a
	// host-relative path.
	PublicURL string
}

// DocumentsRegistry builds the frozen registry of the documents profile.
// A nil sink omits the export tool.
func DocumentsRegistry(svc *docstore.Service, sink ExportSink, opts Options) (*tool.Registry, error) {
	all := DocumentTools(svc, opts.FixedShape)
	if sink != nil {
		all = append(all, ExportDocuments(svc, sink, opts.PublicURL))
	}
	return tool.NewRegistry(all...)
}

// SQLRegistry builds the frozen registry of the sql profile. A nil sink
// omits the export tool.
func SQLRegistry(svc *sqlstore.Service, sink ExportSink, opts Options) (*tool.Registry, error) {
	all := SQLTools(svc)
	if sink != nil {
		all = append(all, ExportSQLQuery(svc, sink, opts.PublicURL))
	}
	return tool.NewRegistry(all...)
}

// DownloadURL returns the link served for an export id.
func DownloadURL(publicURL, id string) string {
	return strings.TrimRight(publicURL, "/") + DownloadPath + id
}

func failure(err error) domain.ToolResult {
	return domain.NewFailure(err.Error())
}

func limitParam(name string) tool.Param {
	return tool.Param{
		Name:        name,
		Type:        "integer",
		Description: "Maximum number of results. 0 or a negative value returns the maximum allowed.",
	}
}
