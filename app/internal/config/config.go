package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/gravitational/trace"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config holds all process configuration.
type Config struct {
	// Server
	Port        string
	DBPath      string
	ServersFile string
	LogLevel    string

	// Central prober
	EnableScheduler bool
	PollInterval    time.Duration
	CheckTimeout    time.Duration
	ProbeSource     string

	// Aggregation
	Lookback time.Duration

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration

	// Retention
	RetentionDays int

	// Ingest auth. Empty hash means open ingestion.
	AgentTokenHash []byte

	// Alerts
	AlertWebhookURL    string
	AlertWebhookSecret string
	AlertAfterFailures int

	// Monitored servers loaded from the servers file.
	Servers []models.Server
}

// Load reads configuration from the environment and the servers file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "central"
	}

	cfg := &Config{
		Port:               getenv("PORT", "4590"),
		DBPath:             getenv("DB_PATH", "./radar.db"),
		ServersFile:        getenv("SERVERS_FILE", "./servers.yaml"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		EnableScheduler:    envBool("ENABLE_SCHEDULER", true),
		PollInterval:       envDurSecs("POLL_SECONDS", 60),
		CheckTimeout:       envDurSecs("CHECK_TIMEOUT_SECS", 5),
		ProbeSource:        getenv("PROBE_SOURCE", hostname),
		Lookback:           envDurSecs("LOOKBACK_SECONDS", 300),
		CacheEnabled:       envBool("CACHE_ENABLED", true),
		CacheTTL:           envDurSecs("CACHE_TTL_SECONDS", 30),
		RetentionDays:      envInt("RETENTION_DAYS", 90),
		AlertWebhookURL:    getenv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookSecret: getenv("ALERT_WEBHOOK_SECRET", ""),
		AlertAfterFailures: envInt("ALERT_AFTER_FAILURES", 2),
	}

	// An agent token may arrive pre-hashed or in the clear; a clear
	// token is hashed at load so the plaintext never lives in memory
	// past this point.
	if h := getenv("AGENT_TOKEN_BCRYPT", ""); h != "" {
		cfg.AgentTokenHash = []byte(h)
	} else if tok := getenv("AGENT_TOKEN", ""); tok != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(tok), bcrypt.DefaultCost)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		cfg.AgentTokenHash = h
	}

	servers, err := LoadServersFile(cfg.ServersFile)
	if err != nil && !os.IsNotExist(trace.Unwrap(err)) {
		return nil, trace.Wrap(err)
	}
	cfg.Servers = servers

	return cfg, nil
}

// VerifyAgentToken checks a presented token against the configured hash.
// With no hash configured, ingestion is open and every token passes.
func (c *Config) VerifyAgentToken(token string) bool {
	if len(c.AgentTokenHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(c.AgentTokenHash, []byte(token)) == nil
}

type serversFile struct {
	Servers []serverEntry `yaml:"servers"`
}

type serverEntry struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	CheckType string `yaml:"check_type"`
	Active    *bool  `yaml:"active"`
}

// LoadServersFile parses the yaml server definitions. Servers default to
// active and check type http unless stated otherwise.
func LoadServersFile(path string) ([]models.Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, trace.BadParameter("invalid servers file %s: %v", path, err)
	}

	servers := make([]models.Server, 0, len(f.Servers))
	for _, e := range f.Servers {
		if e.ID == "" {
			return nil, trace.BadParameter("server entry without id in %s", path)
		}
		srv := models.Server{
			ID:        e.ID,
			Name:      e.Name,
			Address:   e.Address,
			CheckType: e.CheckType,
			Active:    true,
		}
		if srv.Name == "" {
			srv.Name = e.ID
		}
		if srv.CheckType == "" {
			srv.CheckType = "http"
		}
		if e.Active != nil {
			srv.Active = *e.Active
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// Helper functions
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(getenv(k, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDurSecs(k string, def int) time.Duration {
	return time.Duration(envInt(k, def)) * time.Second
}
