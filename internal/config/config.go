package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the venue processes
type Config struct {
	// Service name
	ServiceName string

	// Venue TCP listen port
	VenuePort int

	// HTTP server port (healthz, metrics)
	HTTPPort int

	// gRPC health server port
	GRPCPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Venue address (for clients)
	VenueAddr string

	// Accepted credentials, username -> password
	Users map[string]string

	// Instrument universe, symbol -> seed price
	Instruments map[string]float64

	// Symbol used when a snapshot request names no instrument
	DefaultSymbol string

	// Price simulation tick interval
	TickInterval time.Duration

	// Max price perturbation per tick, in percent
	TickJitterPct float64

	// Client request timeout
	RequestTimeout time.Duration

	// Execution journal path; empty disables the journal
	JournalPath string

	// Kafka brokers (comma-separated) for the drop-copy feed
	KafkaBrokers string

	// Drop-copy feed toggle and topic
	DropCopyEnabled bool
	DropCopyTopic   string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:     serviceName,
		VenuePort:       getEnvAsInt("VENUE_PORT", 9876),
		HTTPPort:        getEnvAsInt("PORT_HTTP", 8080),
		GRPCPort:        getEnvAsInt("PORT_GRPC", 50051),
		LogLevel:        getEnvAsString("LOG_LEVEL", "info"),
		VenueAddr:       getEnvAsString("VENUE_ADDR", "127.0.0.1:9876"),
		Users:           parseUsers(getEnvAsString("VENUE_USERS", "BOS:BOS")),
		Instruments:     parseInstruments(getEnvAsString("VENUE_INSTRUMENTS", "KGHM:1050.00,PKO:455.50,PKN:980.25,TPSA:19.80")),
		DefaultSymbol:   getEnvAsString("VENUE_DEFAULT_SYMBOL", "KGHM"),
		TickInterval:    time.Duration(getEnvAsInt("TICK_INTERVAL_MS", 1000)) * time.Millisecond,
		TickJitterPct:   getEnvAsFloat("TICK_JITTER_PCT", 2.0),
		RequestTimeout:  time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MS", 5000)) * time.Millisecond,
		JournalPath:     getEnvAsString("JOURNAL_PATH", ""),
		KafkaBrokers:    getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		DropCopyEnabled: getEnvAsBool("DROPCOPY_ENABLED", false),
		DropCopyTopic:   getEnvAsString("DROPCOPY_TOPIC", "venue.executions"),
	}

	return cfg
}

// VenueListenAddr returns the venue TCP listen address
func (c *Config) VenueListenAddr() string {
	return fmt.Sprintf(":%d", c.VenuePort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GRPCAddr returns the gRPC health server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// BrokerList returns the Kafka brokers as a trimmed slice
func (c *Config) BrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// parseUsers parses "user:pass,user2:pass2" pairs
func parseUsers(s string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		users[parts[0]] = parts[1]
	}
	return users
}

// parseInstruments parses "SYM:price,SYM2:price2" pairs
func parseInstruments(s string) map[string]float64 {
	instruments := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		price, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		instruments[parts[0]] = price
	}
	return instruments
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
