package app

import (
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/generation"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/env"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

type Config struct {
	Port       string
	Generation generation.Options
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port: env.Get("PORT", "8080", log),
		Generation: generation.Options{
			GroupSize:       env.GetAsInt("GENERATION_GROUP_SIZE", 2, log),
			GroupDelay:      time.Duration(env.GetAsInt("GENERATION_GROUP_DELAY_MS", 500, log)) * time.Millisecond,
			CallTimeout:     time.Duration(env.GetAsInt("GENERATION_CALL_TIMEOUT_SECONDS", 90, log)) * time.Second,
			MinTotalLessons: env.GetAsInt("GENERATION_MIN_LESSONS", 10, log),
		},
	}
}
