package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// GatewayConfig holds all configuration for the session gateway.
type GatewayConfig struct {
	// Listener settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	AllowedOrigins   []string

	// Browser allocation
	DriverMode    string
	ChromePath    string
	Headless      bool
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	ProfileDir    string
	UserAgent     string

	// Geometry and frames
	ViewportWidth   int
	ViewportHeight  int
	CanvasWidth     int
	CanvasHeight    int
	FrameIntervalMS int
	JPEGQuality     int

	// Login detection
	LoginURL          string
	CookieURL         string
	AuthCookie        string
	OptionalCookie    string
	DetectorRulesPath string
	DetectInterval    time.Duration

	// Session lifecycle
	NavigationTimeout time.Duration
	InputTimeout      time.Duration
	IdleTimeout       time.Duration
	GraceWindow       time.Duration
	ConflictPolicy    string
	AutoCloseOnLogin  bool
	InputQueue        int

	// Outputs
	AuditDir        string
	CredentialsDir  string
	HandoffEndpoint string
	AdminToken      string
	LogLevel        string
	LogFile         string
}

// Load reads gateway configuration from environment variables and an optional .env file.
func Load() (*GatewayConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &GatewayConfig{
		BindAddr:         getEnvOrDefault("GATEWAY_BIND_ADDR", "127.0.0.1:8290"),
		PortCandidates:   getEnvListOrDefault("GATEWAY_PORT_CANDIDATES", []string{"127.0.0.1:8291", "127.0.0.1:8292", "127.0.0.1:8293"}),
		PortAutoFallback: getEnvBoolOrDefault("GATEWAY_PORT_AUTO_FALLBACK", true),
		AllowedOrigins:   getEnvListOrDefault("GATEWAY_ALLOWED_ORIGINS", nil),

		DriverMode:    strings.ToLower(getEnvOrDefault("GATEWAY_DRIVER_MODE", "exec")),
		ChromePath:    getEnvOrDefault("GATEWAY_CHROME_PATH", ""),
		Headless:      getEnvBoolOrDefault("GATEWAY_HEADLESS", true),
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9230),
		LaunchBrowser: getEnvBoolOrDefault("GATEWAY_LAUNCH_BROWSER", false),
		ProfileDir:    getEnvOrDefault("GATEWAY_PROFILE_DIR", "./browser_profiles"),
		UserAgent:     getEnvOrDefault("GATEWAY_USER_AGENT", ""),

		ViewportWidth:   getEnvIntOrDefault("GATEWAY_VIEWPORT_WIDTH", 1920),
		ViewportHeight:  getEnvIntOrDefault("GATEWAY_VIEWPORT_HEIGHT", 1080),
		CanvasWidth:     getEnvIntOrDefault("GATEWAY_CANVAS_WIDTH", 1280),
		CanvasHeight:    getEnvIntOrDefault("GATEWAY_CANVAS_HEIGHT", 720),
		FrameIntervalMS: getEnvIntOrDefault("GATEWAY_FRAME_INTERVAL_MS", 200),
		JPEGQuality:     getEnvIntOrDefault("GATEWAY_JPEG_QUALITY", 70),

		// Empty login URL and cookie names defer to the detector rules file.
		LoginURL:          getEnvOrDefault("GATEWAY_LOGIN_URL", ""),
		CookieURL:         getEnvOrDefault("GATEWAY_COOKIE_URL", "https://www.linkedin.com"),
		AuthCookie:        getEnvOrDefault("GATEWAY_AUTH_COOKIE", ""),
		OptionalCookie:    getEnvOrDefault("GATEWAY_OPTIONAL_COOKIE", ""),
		DetectorRulesPath: getEnvOrDefault("GATEWAY_DETECTOR_RULES", "./config/detector.yaml"),
		DetectInterval:    getEnvDurationOrDefault("GATEWAY_DETECT_INTERVAL", 2*time.Second),

		NavigationTimeout: getEnvDurationOrDefault("GATEWAY_NAVIGATION_TIMEOUT", 45*time.Second),
		InputTimeout:      getEnvDurationOrDefault("GATEWAY_INPUT_TIMEOUT", 10*time.Second),
		IdleTimeout:       getEnvDurationOrDefault("GATEWAY_IDLE_TIMEOUT", 15*time.Minute),
		GraceWindow:       getEnvDurationOrDefault("GATEWAY_GRACE_WINDOW", 30*time.Second),
		ConflictPolicy:    strings.ToLower(getEnvOrDefault("GATEWAY_CONFLICT_POLICY", "replace")),
		AutoCloseOnLogin:  getEnvBoolOrDefault("GATEWAY_AUTO_CLOSE_ON_LOGIN", false),
		InputQueue:        getEnvIntOrDefault("GATEWAY_INPUT_QUEUE", 64),

		AuditDir:        getEnvOrDefault("GATEWAY_AUDIT_DIR", "./audit"),
		CredentialsDir:  getEnvOrDefault("GATEWAY_CREDENTIALS_DIR", "./credentials"),
		HandoffEndpoint: getEnvOrDefault("GATEWAY_HANDOFF_ENDPOINT", ""),
		AdminToken:      getEnvOrDefault("GATEWAY_ADMIN_TOKEN", ""),
		LogLevel:        strings.ToLower(getEnvOrDefault("GATEWAY_LOG_LEVEL", "info")),
		LogFile:         getEnvOrDefault("GATEWAY_LOG_FILE", "logs/session_gateway.log"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GatewayConfig) validate() error {
	switch c.DriverMode {
	case "exec", "remote":
	default:
		return fmt.Errorf("GATEWAY_DRIVER_MODE must be exec or remote, got %q", c.DriverMode)
	}
	switch c.ConflictPolicy {
	case "replace", "reject":
	default:
		return fmt.Errorf("GATEWAY_CONFLICT_POLICY must be replace or reject, got %q", c.ConflictPolicy)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("canvas must be positive, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.FrameIntervalMS < 20 {
		c.FrameIntervalMS = 20
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		c.JPEGQuality = 70
	}
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
	return nil
}

// GetCDPURL returns the CDP HTTP endpoint of the shared browser used in remote mode.
func (c *GatewayConfig) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// FrameInterval is the screencast cadence.
func (c *GatewayConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
