package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPath     string

	// Fallback provider credential, used when a tenant has none of its own.
	WhatsAppToken  string
	PhoneNumberID  string
	WhatsAppAPIURL string
	VerifyToken    string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	FunctionsJWTSecret string

	RedisURL      string
	RedisPassword string

	Engine Engine
}

// Engine holds the tunables that can be overridden from the ENGINE_CONFIG file.
type Engine struct {
	SendDelay        time.Duration  `yaml:"send_delay"`
	DefaultTimezone  string         `yaml:"default_timezone"`
	SLAHours         map[string]int `yaml:"sla_hours"`
	SweepConcurrency int            `yaml:"sweep_concurrency"`
}

func DefaultEngine() Engine {
	return Engine{
		SendDelay:       time.Second,
		DefaultTimezone: "America/Sao_Paulo",
		SLAHours: map[string]int{
			"urgente": 4,
			"alta":    8,
			"media":   24,
			"baixa":   72,
		},
		SweepConcurrency: 4,
	}
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBDriver:           getEnv("DB_DRIVER", "postgres"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", ""),
		DBName:             getEnv("DB_NAME", "engagement"),
		DBSSLMode:          getEnv("DB_SSLMODE", "disable"),
		DBPath:             getEnv("DB_PATH", "./engagement.db"),
		WhatsAppToken:      getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:      getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppAPIURL:     getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
		VerifyToken:        getEnv("VERIFY_TOKEN", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		FunctionsJWTSecret: getEnv("FUNCTIONS_JWT_SECRET", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		Engine:             DefaultEngine(),
	}

	if path := getEnv("ENGINE_CONFIG", ""); path != "" {
		engine, err := LoadEngineFile(path)
		if err != nil {
			log.Printf("Warning: ignoring engine config %s: %v", path, err)
		} else {
			cfg.Engine = engine
		}
	}

	return cfg
}

// LoadEngineFile reads engine tunables from a YAML file. Keys absent from the
// file keep their defaults.
func LoadEngineFile(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, err
	}
	return ParseEngine(data)
}

func ParseEngine(data []byte) (Engine, error) {
	engine := DefaultEngine()
	var file Engine
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Engine{}, fmt.Errorf("parse engine config: %w", err)
	}

	if file.SendDelay > 0 {
		engine.SendDelay = file.SendDelay
	}
	if file.DefaultTimezone != "" {
		if _, err := time.LoadLocation(file.DefaultTimezone); err != nil {
			return Engine{}, fmt.Errorf("default_timezone: %w", err)
		}
		engine.DefaultTimezone = file.DefaultTimezone
	}
	for priority, hours := range file.SLAHours {
		if _, ok := engine.SLAHours[priority]; !ok {
			return Engine{}, fmt.Errorf("sla_hours: unknown priority %q", priority)
		}
		if hours <= 0 {
			return Engine{}, fmt.Errorf("sla_hours: %s must be positive", priority)
		}
		engine.SLAHours[priority] = hours
	}
	if file.SweepConcurrency > 0 {
		engine.SweepConcurrency = file.SweepConcurrency
	}
	return engine, nil
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
