package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN         string
	MongoURI      string
	RedisAddr     string
	RabbitURL     string
	JWTSecret     string
	HTTPAddr      string
	HoldDuration  time.Duration
	SweepInterval time.Duration
	OTLPEndpoint  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdMinutes, _ := strconv.Atoi(os.Getenv("HOLD_MINUTES"))
	if holdMinutes <= 0 {
		holdMinutes = 15
	}

	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	return &Config{
		DBDSN:         os.Getenv("DB_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		HTTPAddr:      httpAddr,
		HoldDuration:  time.Duration(holdMinutes) * time.Minute,
		SweepInterval: sweepInterval,
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
