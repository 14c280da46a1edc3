// Package mcptools exposes the dependency graph and the temporal change
// workflow to agents as MCP tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

const shutdownTimeout = 5 * time.Second

// NewServer creates an MCP server with every graph tool registered.
func NewServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "parseltongue",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_repo",
		Description: "Parse a repository with tree-sitter and load its entities and dependency edges into the graph. Replaces the graph unless append is set.",
	}, svc.IngestRepo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_entity",
		Description: "Fetch one entity by key, including its current and future code and temporal state.",
	}, svc.GetEntity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_entities",
		Description: "List entities filtered by kind, file, name substring or pending state. Code is omitted; use get_entity for it.",
	}, svc.ListEntities)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "forward_dependencies",
		Description: "List the entities a given entity depends on directly.",
	}, svc.ForwardDependencies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reverse_dependencies",
		Description: "List the entities that depend directly on a given entity.",
	}, svc.ReverseDependencies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "blast_radius",
		Description: "Compute every entity affected by changing a given entity, with the minimal number of reverse hops to each.",
	}, svc.BlastRadius)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_cycles",
		Description: "Find dependency cycles (strongly connected components and self-loops), optionally only those reachable from seed keys.",
	}, svc.DetectCycles)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "propose_create",
		Description: "Record a pending creation of a new entity. Returns the key the entity will carry.",
	}, svc.ProposeCreate)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "propose_edit",
		Description: "Record a pending edit of an existing entity with its future code.",
	}, svc.ProposeEdit)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "propose_delete",
		Description: "Record a pending deletion of an existing entity.",
	}, svc.ProposeDelete)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_batch",
		Description: "Validate and apply several changes atomically. Rejected batches return the failing rule verdicts and write nothing.",
	}, svc.ApplyBatch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pending_changes",
		Description: "Export every pending create, edit and delete grouped by file, for the tool that writes source files.",
	}, svc.PendingChanges)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset",
		Description: "Discard every entity and edge. Requires confirm=true; no backup is kept.",
	}, svc.Reset)

	return server
}

// RunServer serves the MCP tools over streamable HTTP until ctx is done.
func RunServer(ctx context.Context, svc *Service, addr string) error {
	server := NewServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	svc.logger.WithField("addr", addr).Info("mcp server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunStdio serves the MCP tools over stdin/stdout until ctx is done or the
// client disconnects.
func RunStdio(ctx context.Context, svc *Service) error {
	return NewServer(svc).Run(ctx, &mcp.StdioTransport{})
}
