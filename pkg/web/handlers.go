package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicebot/pkg/capture"
	"github.com/teslashibe/go-voicebot/pkg/session"
	"github.com/teslashibe/go-voicebot/pkg/tools"
)

// JoinRequest is the body of POST /api/join.
type JoinRequest struct {
	Mode string `json:"mode"`
}

// ToolInfo describes a catalog tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := s.ctrl.Status()
	if s.events != nil {
		st.Clients = s.events.ClientCount()
	}
	return c.JSON(st)
}

func (s *Server) handleHelp(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"help": HelpText})
}

func (s *Server) handleJoin(c *fiber.Ctx) error {
	var req JoinRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid body")
		}
	}
	if req.Mode == "" {
		req.Mode = c.Query("mode")
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	sess, err := s.ctrl.Join(c.UserContext(), mode)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return errorJSON(c, fiber.StatusConflict, "I am already in a voice channel. Please use the leave command first.")
	case err != nil:
		s.logger.Error("join failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"message": "Joined voice channel.",
		"session": sess.ID,
		"mode":    sess.Mode.String(),
	})
}

func (s *Server) handleLeave(c *fiber.Ctx) error {
	sum, err := s.ctrl.Leave(c.UserContext())
	switch {
	case errors.Is(err, session.ErrNoSession):
		return errorJSON(c, fiber.StatusConflict, "I am not in a voice channel.")
	case err != nil:
		s.logger.Error("leave failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	resp := fiber.Map{
		"message":  "Left voice channel.",
		"session":  sum.ID,
		"duration": sum.Duration.String(),
	}
	if sum.Mode == session.ModeTranscribe {
		resp["transcript"] = sum.Transcript
	}
	return c.JSON(resp)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.ctrl.Reset(c.UserContext())
	return c.JSON(fiber.Map{"message": "Chat history reset!"})
}

// handleCapture ingests raw PCM s16le for one speaker. Format comes from
// the rate and channels query parameters, the display name from name.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	body := c.Body()
	capt := capture.Capture{
		SpeakerID:   c.Params("speaker"),
		DisplayName: c.Query("name"),
		PCM:         append([]byte(nil), body...),
	}
	var err error
	if capt.SampleRate, err = queryInt(c, "rate"); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid rate")
	}
	if capt.Channels, err = queryInt(c, "channels"); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid channels")
	}

	switch err := s.ctrl.Submit(capt); {
	case errors.Is(err, capture.ErrInvalidCapture):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrBusy), errors.Is(err, session.ErrNoSession):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrQueueFull), errors.Is(err, capture.ErrClosed):
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "tools": s.toolInfo()})
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	return c.JSON(s.toolInfo())
}

// handleCallTool runs one tool and answers with the envelope remote tool
// clients expect.
func (s *Server) handleCallTool(c *fiber.Ctx) error {
	name := c.Params("name")
	args := string(c.Body())

	result, err := s.tools.Invoke(c.UserContext(), name, args)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return c.Status(fiber.StatusNotFound).JSON(tools.Envelope{Error: "Unknown tool: " + name})
	case errors.Is(err, tools.ErrInvalidArguments):
		return c.Status(fiber.StatusBadRequest).JSON(tools.Envelope{Error: err.Error()})
	case err != nil:
		s.logger.Warn("tool call failed", "tool", name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(tools.Envelope{Error: err.Error()})
	}
	return c.JSON(tools.Envelope{Success: true, Result: result})
}

func (s *Server) toolInfo() []ToolInfo {
	defs := s.tools.Definitions()
	out := make([]ToolInfo, len(defs))
	for i, d := range defs {
		out[i] = ToolInfo{Name: d.Function.Name, Description: d.Function.Description, Parameters: d.Function.Parameters}
	}
	return out
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
