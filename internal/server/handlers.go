package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"wordpot/internal/game"
)

// errorBody maps engine errors to an HTTP status and a stable code.
func errorBody(err error) (int, fiber.Map) {
	var (
		invalid *game.InvalidWordError
		already *game.AlreadyGuessedError
	)
	switch {
	case errors.As(err, &invalid):
		return fiber.StatusBadRequest, fiber.Map{"error": err.Error(), "code": "invalid_word", "reason": invalid.Reason}
	case errors.As(err, &already):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": "already_guessed", "word": already.Word}
	case errors.Is(err, game.ErrInvalidPlayer), errors.Is(err, game.ErrUnknownPlayer):
		return fiber.StatusBadRequest, fiber.Map{"error": err.Error(), "code": "invalid_player"}
	case errors.Is(err, game.ErrRoundAlreadyResolved):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": "round_resolved"}
	case errors.Is(err, game.ErrRoundClosed):
		return fiber.StatusConflict, fiber.Map{"error": err.Error(), "code": "round_closed"}
	case errors.Is(err, game.ErrRoundNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": err.Error(), "code": "round_not_found"}
	}
	return fiber.StatusInternalServerError, fiber.Map{"error": "Internal server error", "code": "internal"}
}

func (s *FiberServer) fail(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status == fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(body)
}

func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		log.Error("unhandled error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.gameHub.ClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) submitGuessHandler(c *fiber.Ctx) error {
	var req game.GuessRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	out, err := s.gameManager.SubmitGuess(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(out)
}

func (s *FiberServer) activeRoundHandler(c *fiber.Ctx) error {
	summary, err := s.gameManager.ActiveRoundSummary(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if summary == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active round",
		})
	}
	return c.JSON(summary)
}

func roundIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid round id")
	}
	return id, nil
}

func (s *FiberServer) wheelHandler(c *fiber.Ctx) error {
	id, err := roundIDParam(c)
	if err != nil {
		return err
	}
	words, err := s.gameManager.Wheel(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if words == nil {
		words = []string{}
	}
	return c.JSON(fiber.Map{"round_id": id, "words": words})
}

func (s *FiberServer) topGuessersHandler(c *fiber.Ctx) error {
	id, err := roundIDParam(c)
	if err != nil {
		return err
	}
	top, err := s.gameManager.TopGuessers(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if top == nil {
		top = []game.TopGuesser{}
	}
	return c.JSON(fiber.Map{"round_id": id, "top_guessers": top})
}

func (s *FiberServer) commitmentHandler(c *fiber.Ctx) error {
	id, err := roundIDParam(c)
	if err != nil {
		return err
	}
	reveal, err := s.gameManager.Commitment(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(reveal)
}

type wsRequest struct {
	Type string `json:"type"`
	Word string `json:"word"`
	Paid bool   `json:"paid"`
}

// gameWebSocketHandler streams round events and accepts guesses from the
// player named in the player_id query parameter.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	playerParam := conn.Query("player_id", "")
	playerID, _ := strconv.ParseInt(playerParam, 10, 64)

	client := s.gameHub.RegisterClient(conn, playerParam)
	defer s.gameHub.UnregisterClient(client)

	ctx := context.Background()
	if summary, err := s.gameManager.ActiveRoundSummary(ctx); err == nil {
		s.gameHub.SendSummary(client, summary)
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket closed", "player_id", playerParam, "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}

		switch req.Type {
		case "guess":
			s.gameHub.Send(client, s.wsGuess(ctx, game.GuessRequest{
				PlayerID: game.PlayerID(playerID),
				Word:     req.Word,
				Paid:     req.Paid,
			}))

		case "ping":
			s.gameHub.Send(client, game.Message{Type: "pong"})
		}
	}
}

func (s *FiberServer) wsGuess(ctx context.Context, req game.GuessRequest) (msg game.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("guess aborted", "player_id", req.PlayerID, "panic", r)
			msg = game.Message{Type: "error", Data: fiber.Map{"error": "Internal server error", "code": "internal"}}
		}
	}()

	out, err := s.gameManager.SubmitGuess(ctx, req)
	if err != nil {
		_, body := errorBody(err)
		return game.Message{Type: "error", Data: body}
	}
	return game.Message{Type: "guess_result", RoundID: out.RoundID, Data: out}
}
