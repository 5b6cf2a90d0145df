// skiff-demo-server serves a small MCP server over streamable HTTP, useful as
// a local target for exercising the HTTP connection path end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/tidewater-labs/skiff/pkg/logging"
)

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	path := flag.String("path", "/mcp", "MCP endpoint path")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logging.SetupLogger(*logLevel)

	server := buildServer()
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle(*path, cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(handler))

	httpServer := &http.Server{Addr: *addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("demo MCP server listening", "addr", *addr, "path", *path)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func buildServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "skiff-demo",
		Version: "0.1.0",
	}, nil)

	echo := &mcp.Tool{
		Name:        "echo",
		Description: "Echo back the message argument",
	}
	server.AddTool(echo, func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]any]) (*mcp.CallToolResultFor[any], error) {
		message, ok := params.Arguments["message"].(string)
		if !ok {
			return &mcp.CallToolResultFor[any]{
				Content: []mcp.Content{&mcp.TextContent{Text: "Error: message parameter required"}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: message}},
		}, nil
	})

	now := &mcp.Tool{
		Name:        "current_time",
		Description: "Report the server's current time, optionally in a given IANA timezone",
	}
	server.AddTool(now, func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]any]) (*mcp.CallToolResultFor[any], error) {
		loc := time.Local
		if tz, ok := params.Arguments["timezone"].(string); ok && tz != "" {
			parsed, err := time.LoadLocation(tz)
			if err != nil {
				return &mcp.CallToolResultFor[any]{
					Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: unknown timezone %q", tz)}},
					IsError: true,
				}, nil
			}
			loc = parsed
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: time.Now().In(loc).Format(time.RFC3339)}},
		}, nil
	})

	upper := &mcp.Tool{
		Name:        "shout",
		Description: "Uppercase the text argument",
	}
	server.AddTool(upper, func(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]any]) (*mcp.CallToolResultFor[any], error) {
		text, _ := params.Arguments["text"].(string)
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: strings.ToUpper(text)}},
		}, nil
	})

	return server
}
