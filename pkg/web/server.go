// Package web serves the bot's control API: session commands, capture
// ingest, the tool endpoint and a live event feed.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicebot/pkg/capture"
	"github.com/teslashibe/go-voicebot/pkg/hub"
	"github.com/teslashibe/go-voicebot/pkg/inference"
	"github.com/teslashibe/go-voicebot/pkg/session"
)

// HelpText lists the control commands.
const HelpText = `Commands:
  join            Join and start listening for trigger words.
  join free       Join and listen without trigger words.
  join transcribe Join and keep a transcript that is returned on leave.
  reset           Reset chat history. You may also say "reset chat history".
  leave           Leave the voice chat. You may also say "leave voice chat".
  help            Display this message.`

// Status is the bot state reported by GET /api/status.
type Status struct {
	Active    bool          `json:"active"`
	Session   string        `json:"session,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Thinking  bool          `json:"thinking"`
	Buffered  int           `json:"buffered"`
	Capture   capture.Stats `json:"capture"`
	Tools     []string      `json:"tools"`
	Clients   int           `json:"clients"`
}

// Controller is the bot as seen by the API.
type Controller interface {
	Join(ctx context.Context, mode session.Mode) (*session.Session, error)
	Leave(ctx context.Context) (session.Summary, error)
	Reset(ctx context.Context)
	Status() Status
	Submit(c capture.Capture) error
}

// ToolRunner runs catalog tools by name.
type ToolRunner interface {
	Definitions() []inference.Tool
	Invoke(ctx context.Context, name, arguments string) (string, error)
}

// Server is the control API.
type Server struct {
	app    *fiber.App
	ctrl   Controller
	tools  ToolRunner
	events *hub.Hub
	logger *slog.Logger
}

// NewServer builds the API. tools and events may be nil, which disables the
// tool endpoints and the event feed.
func NewServer(ctrl Controller, tools ToolRunner, events *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:   ctrl,
		tools:  tools,
		events: events,
		logger: logger.With("component", "web.server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebot",
		DisableStartupMessage: true,
		BodyLimit:             32 << 20,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/help", s.handleHelp)
	api.Post("/join", s.handleJoin)
	api.Post("/leave", s.handleLeave)
	api.Post("/reset", s.handleReset)
	api.Post("/captures/:speaker", s.handleCapture)

	if tools != nil {
		app.Get("/health", s.handleHealth)
		app.Get("/tools", s.handleListTools)
		app.Post("/tools/:name", s.handleCallTool)
	}

	if events != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", websocket.New(events.Serve))
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()

	s.logger.Info("control API listening", "addr", ln.Addr().String())
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
