// Package mcp exposes gitshelf's repository tools and stash resources over
// the Model Context Protocol.
package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "gitshelf"
	ServerVersion = "0.1.0"
)

// NewServer returns a protocol server with every registered tool and the
// stash resource template. Each session or push connection gets its own
// server; they all share the dispatcher.
func (d *Dispatcher) NewServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	for _, name := range d.Operations() {
		op := d.ops[name]
		server.AddTool(&mcpsdk.Tool{
			Name:        op.name,
			Description: op.description,
			InputSchema: op.schema,
		}, d.CallTool)
	}

	server.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		Name:        stashResourceTitle,
		Description: "A stash entry of the server's workspace with the files it changes. {id} is a stash index, stash@{n} ref, or stash commit SHA.",
		MIMEType:    resourceMIMEType,
		URITemplate: StashURITemplate,
	}, d.ReadResource)

	return server
}
