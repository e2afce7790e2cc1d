package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	URIScheme          = "gitshelf"
	stashCollection    = "stash"
	StashURITemplate   = URIScheme + "://" + stashCollection + "/{id}"
	resourceMIMEType   = "application/json"
	stashResourceTitle = "stash"
)

// StashURI returns the resource URI for a stash id.
func StashURI(id string) string {
	return URIScheme + "://" + stashCollection + "/" + url.PathEscape(id)
}

// parseStashURI extracts the id from gitshelf://stash/{id}.
func parseStashURI(raw string) (string, error) {
	invalid := fmt.Errorf("%w %q: expected %s", ErrInvalidURI, raw, StashURITemplate)

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != URIScheme || u.Host != stashCollection || u.RawQuery != "" || u.Fragment != "" {
		return "", invalid
	}
	id := strings.TrimPrefix(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", invalid
	}
	return id, nil
}

// ReadResource serves gitshelf://stash/{id} for the default workspace. The
// id is a stash index, a stash@{n} ref, or a stash commit SHA.
func (d *Dispatcher) ReadResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := ""
	if req != nil && req.Params != nil {
		uri = req.Params.URI
	}

	start := d.now()
	defer d.observe("resource", uri, start)

	id, err := parseStashURI(uri)
	if err != nil {
		return nil, err
	}
	root, err := d.root(ctx, "")
	if err != nil {
		return nil, err
	}
	details, err := d.stashDetails(ctx, root, id)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}

	data, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", uri, err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: resourceMIMEType,
			Text:     string(data),
		}},
	}, nil
}
