package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pergolahq/pergola"
	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/session"
)

// TurnResponse aligns with the HTTP adapter's decision payload so MCP
// clients see the same structure.
type TurnResponse struct {
	Decision     *domain.Decision           `json:"decision" jsonschema_description:"The engine decision for this turn"`
	Conversation *domain.ConversationContext `json:"conversation,omitempty" jsonschema_description:"The updated conversation snapshot"`
}

// Server wraps the flow engine and exposes it as an MCP server.
type Server struct {
	engine    *pergola.Engine
	sessions  *session.Manager
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance.
func NewServer(engine *pergola.Engine, sessions *session.Manager) *Server {
	s := &Server{
		engine:    engine,
		sessions:  sessions,
		mcpServer: server.NewMCPServer("pergola-mcp", strings.TrimSpace(pergola.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: process_turn
	turnTool := mcp.NewTool("process_turn",
		mcp.WithDescription("Process a conversation turn. Creates the conversation if it does not exist."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithString("intent", mcp.Required(), mcp.Description("Classified intent name")),
		mcp.WithNumber("confidence", mcp.Description("Classifier confidence between 0 and 1")),
		mcp.WithString("data", mcp.Description("JSON object of extracted slot data (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	)
	s.mcpServer.AddTool(turnTool, mcp.NewStructuredToolHandler(s.handleProcessTurn))

	// TOOL: resume
	resumeTool := mcp.NewTool("resume",
		mcp.WithDescription("Resume an interrupted conversation."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithOutputSchema[TurnResponse](),
	)
	s.mcpServer.AddTool(resumeTool, mcp.NewStructuredToolHandler(s.handleResume))

	// TOOL: get_snapshot
	snapshotTool := mcp.NewTool("get_snapshot",
		mcp.WithDescription("Get the current conversation snapshot."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
	)
	s.mcpServer.AddTool(snapshotTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("conversation_id", "")
		convo, err := s.sessions.Load(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(convo)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: inspect_flow
	s.mcpServer.AddTool(mcp.NewTool("inspect_flow",
		mcp.WithDescription("Get the full flow definition for introspection."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.engine.Inspect())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleProcessTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	id, _ := args["conversation_id"].(string)
	name, _ := args["intent"].(string)
	if id == "" || name == "" {
		return TurnResponse{}, fmt.Errorf("conversation_id and intent are required")
	}

	intent := domain.Intent{Name: name}
	if conf, ok := args["confidence"].(float64); ok {
		intent.Confidence = conf
	}
	if dataStr, ok := args["data"].(string); ok && dataStr != "" {
		if err := json.Unmarshal([]byte(dataStr), &intent.ExtractedData); err != nil {
			return TurnResponse{}, fmt.Errorf("invalid data payload: %w", err)
		}
	}

	flow := s.engine.Flow()
	var resp TurnResponse
	err := s.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		convo, err := s.sessions.Store().Load(ctx, id)
		if err == domain.ErrConversationNotFound {
			convo = domain.NewConversation(id, flow.Name, flow.Entry)
			err = nil
		}
		if err != nil {
			return err
		}
		decision, err := s.engine.ProcessTurn(ctx, convo, intent)
		if err != nil {
			return err
		}
		if err := s.sessions.Store().Save(ctx, id, convo); err != nil {
			return err
		}
		resp = TurnResponse{Decision: decision, Conversation: convo}
		return nil
	})
	if err != nil {
		return TurnResponse{}, fmt.Errorf("turn failed: %w", err)
	}
	return resp, nil
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	id, _ := args["conversation_id"].(string)
	if id == "" {
		return TurnResponse{}, fmt.Errorf("conversation_id is required")
	}

	var resp TurnResponse
	err := s.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		convo, err := s.sessions.Store().Load(ctx, id)
		if err != nil {
			return err
		}
		decision, err := s.engine.Resume(ctx, convo)
		if err != nil {
			return err
		}
		if err := s.sessions.Store().Save(ctx, id, convo); err != nil {
			return err
		}
		resp = TurnResponse{Decision: decision, Conversation: convo}
		return nil
	})
	if err != nil {
		return TurnResponse{}, fmt.Errorf("resume failed: %w", err)
	}
	return resp, nil
}

func (s *Server) registerResources() {
	// EXPOSE: pergola://flow
	s.mcpServer.AddResource(mcp.NewResource("pergola://flow", "Current Flow Definition",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Inspect())
		if err != nil {
			return nil, fmt.Errorf("failed to inspect flow: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "pergola://flow",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
