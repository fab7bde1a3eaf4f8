package handler

import (
	"context"
	"os/exec"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	redis      *redis.Client
	ffmpegPath string
	pythonPath string
}

func NewHealthHandler(redisClient *redis.Client, ffmpegPath, pythonPath string) *HealthHandler {
	return &HealthHandler{
		redis:      redisClient,
		ffmpegPath: ffmpegPath,
		pythonPath: pythonPath,
	}
}

// Check handles GET /health. The service is "ok" only when every dependency
// answers; otherwise "degraded" with per-dependency detail.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	deps := fiber.Map{
		"redis":  h.redis.Ping(ctx).Err() == nil,
		"ffmpeg": lookPathOK(h.ffmpegPath),
		"engine": lookPathOK(h.pythonPath),
	}

	status := "ok"
	for _, up := range deps {
		if up != true {
			status = "degraded"
			break
		}
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
	})
}

func lookPathOK(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
