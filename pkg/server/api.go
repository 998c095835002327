package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

func (s *Server) registerAPIRoutes(api fiber.Router) {
	api.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(s.opts.Controller.Snapshot())
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"controller": s.opts.Controller.Stats(),
			"transport":  s.GetStats(),
		}
		if s.opts.SinkStats != nil {
			resp["sink"] = s.opts.SinkStats()
		}
		return c.JSON(resp)
	})

	api.Get("/sessions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": s.SessionInfos(),
			"count":    s.SessionCount(),
		})
	})

	api.Post("/command", s.handleCommand)

	api.Post("/rtc/offer", func(c *fiber.Ctx) error {
		if s.opts.RTC == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "webrtc disabled"})
		}

		var offer webrtc.SessionDescription
		if err := c.BodyParser(&offer); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
		defer cancel()

		answer, id, err := s.opts.RTC.Answer(ctx, offer)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"id": id, "type": answer.Type.String(), "sdp": answer.SDP})
	})
}

// handleCommand submits the request body as one payload and waits for its
// reply. Commands that never reply (rt_frame, stream frames) are accepted
// with 202 as soon as they are queued.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	s.messagesReceived.Add(1)

	cmd, err := protocol.Parse(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).Send(protocol.ErrorReply(err))
	}
	silent := cmd.Type == protocol.CmdRTFrame || cmd.Type == protocol.CmdStreamFrame

	replies := make(chan []byte, 1)
	reply := func(data []byte) {
		select {
		case replies <- data:
		default:
		}
	}

	s.submit(body, reply)

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if silent {
		select {
		case data := <-replies:
			// Only a busy or transport error reaches here.
			return c.Status(fiber.StatusServiceUnavailable).Send(data)
		default:
			return c.SendStatus(fiber.StatusAccepted)
		}
	}

	select {
	case data := <-replies:
		s.messagesSent.Add(1)
		return c.Send(data)
	case <-time.After(s.opts.CommandTimeout):
		return c.Status(fiber.StatusGatewayTimeout).Send(protocol.CodeReply(protocol.CodeBusy))
	}
}
