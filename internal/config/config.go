package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
	Upload UploadConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat, Upload: upload}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// Accept ":8000" or "127.0.0.1:8000" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the upstream OCR and Q&A service.
type AIConfig struct {
	APIKey   string
	BaseURL  string
	QAModel  string
	OCRModel string
	Timeout  time.Duration
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAIConfig() (AIConfig, error) {
	timeoutSeconds := 120
	if override, err := parseOptionalIntEnv("UPSTREAM_TIMEOUT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		timeoutSeconds = *override
	}

	return AIConfig{
		APIKey:   strings.TrimSpace(os.Getenv("MISTRAL_API_KEY")),
		BaseURL:  getEnvOrDefault("MISTRAL_BASE_URL", "https://api.mistral.ai"),
		QAModel:  getEnvOrDefault("QA_MODEL", "mistral-small-latest"),
		OCRModel: getEnvOrDefault("OCR_MODEL", "mistral-ocr-latest"),
		Timeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// ChatConfig describes conversation handling.
type ChatConfig struct {
	WindowSize int
	DBPath     string
}

func loadChatConfig() (ChatConfig, error) {
	windowSize := 4
	if override, err := parseOptionalIntEnv("CHAT_WINDOW_SIZE"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return ChatConfig{}, fmt.Errorf("CHAT_WINDOW_SIZE must not be negative, got %d", *override)
		}
		windowSize = *override
	}

	return ChatConfig{
		WindowSize: windowSize,
		DBPath:     getEnvOrDefault("DB_PATH", "docchat.db"),
	}, nil
}

// UploadConfig bounds incoming document uploads.
type UploadConfig struct {
	MaxFileSizeMB int64
}

func loadUploadConfig() (UploadConfig, error) {
	maxSize := int64(50)
	if override, err := parseOptionalIntEnv("MAX_FILE_SIZE_MB"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return UploadConfig{}, fmt.Errorf("MAX_FILE_SIZE_MB must be at least 1, got %d", *override)
		}
		maxSize = int64(*override)
	}

	return UploadConfig{MaxFileSizeMB: maxSize}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
