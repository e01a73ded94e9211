// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_BOT_TOKEN"
	KeyTelegramTokenTest = "TELEGRAM_BOT_TOKEN_TEST"
	KeyTestMode          = "TEST"
	KeyOpenAIKey         = "OPENAI_API_KEY"
	KeyOpenAIKeyLegacy   = "GPT4_API_KEY"
	KeyOpenAIBaseURL     = "OPENAI_BASE_URL"
	KeyGPTModel          = "GPT_MODEL"
	KeyWhisperModel      = "WHISPER_MODEL"
	KeyAllowedBusiness   = "ALLOWED_BID_CONNECTIONS"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"
	KeyLedgerDriver      = "LEDGER_DRIVER"
	KeyLedgerPath        = "LEDGER_PATH"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDB           = "MONGO_DB"
	KeyInvoicePrice      = "INVOICE_PRICE"
	KeyPollTimeout       = "POLL_TIMEOUT"
	KeyDispatchWorkers   = "DISPATCH_WORKERS"
	KeyRemoteTimeout     = "REMOTE_TIMEOUT"
	KeyUpdateTimeout     = "UPDATE_TIMEOUT"
	KeyBotCredit         = "BOT_CREDIT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Ledger backends.
	LedgerSQLite = "sqlite"
	LedgerMongo  = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultLedgerDriver    = LedgerSQLite
	DefaultLedgerPath      = "payments.db"
	DefaultGPTModel        = "gpt-4o-2024-08-06"
	DefaultWhisperModel    = "whisper-1"
	DefaultInvoicePrice    = 1
	DefaultPollTimeout     = 30 * time.Second
	DefaultDispatchWorkers = 4
	DefaultRemoteTimeout   = 2 * time.Minute
	DefaultUpdateTimeout   = 5 * time.Minute
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyTelegramTokenTest,
		Example:     "456:DEF",
		Description: "Bot token for the Telegram test environment.",
		Notes:       "Required when " + KeyTestMode + " is set.",
	},
	{
		Key:         KeyTestMode,
		Example:     "1",
		Description: "Routes Bot API calls to the Telegram test environment.",
	},
	{
		Key:         KeyOpenAIKey,
		Example:     "sk-...",
		Required:    true,
		Description: "Credential for the transcription and cleanup services.",
		Notes:       KeyOpenAIKeyLegacy + " is read when this is unset.",
	},
	{
		Key:         KeyOpenAIKeyLegacy,
		Example:     "sk-...",
		Description: "Older name for " + KeyOpenAIKey + ".",
	},
	{
		Key:         KeyOpenAIBaseURL,
		Example:     "https://api.openai.com/v1",
		Description: "Overrides the remote service base URL.",
	},
	{
		Key:         KeyGPTModel,
		Example:     DefaultGPTModel,
		Default:     DefaultGPTModel,
		Description: "Chat model used to clean transcripts.",
	},
	{
		Key:         KeyWhisperModel,
		Example:     DefaultWhisperModel,
		Default:     DefaultWhisperModel,
		Description: "Speech-to-text model.",
	},
	{
		Key:         KeyAllowedBusiness,
		Example:     "['conn-a','conn-b'] / conn-a,conn-b",
		Description: "Business connection ids allowed to use transcription.",
		Notes:       "Messages from other business connections are ignored.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health and metrics port.",
	},
	{
		Key:         KeyLedgerDriver,
		Example:     LedgerSQLite + " / " + LedgerMongo,
		Default:     DefaultLedgerDriver,
		Description: "Payment ledger backend.",
	},
	{
		Key:         KeyLedgerPath,
		Example:     DefaultLedgerPath,
		Default:     DefaultLedgerPath,
		Description: "SQLite ledger file, created on first use.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyLedgerDriver + "=" + LedgerMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "voice_bot",
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyLedgerDriver + "=" + LedgerMongo + ".",
	},
	{
		Key:         KeyInvoicePrice,
		Example:     strconv.Itoa(DefaultInvoicePrice),
		Default:     strconv.Itoa(DefaultInvoicePrice),
		Description: "Price of feature access in Telegram Stars.",
	},
	{
		Key:         KeyPollTimeout,
		Example:     "30",
		Default:     "30",
		Description: "Long-poll wait in seconds.",
	},
	{
		Key:         KeyDispatchWorkers,
		Example:     strconv.Itoa(DefaultDispatchWorkers),
		Default:     strconv.Itoa(DefaultDispatchWorkers),
		Description: "Updates handled concurrently within one batch.",
	},
	{
		Key:         KeyRemoteTimeout,
		Example:     "120",
		Default:     "120",
		Description: "Per-call timeout in seconds for file downloads and remote services.",
	},
	{
		Key:         KeyUpdateTimeout,
		Example:     "300",
		Default:     "300",
		Description: "Deadline in seconds for handling a single update.",
		Notes:       "A handler past its deadline is cancelled and frees its worker.",
	},
	{
		Key:         KeyBotCredit,
		Example:     "@denyamsk",
		Description: "Optional credit appended to transcription headers.",
	},
}

// Usage renders the contract as the environment section of the command help.
func Usage() string {
	var b strings.Builder
	b.WriteString("Environment:\n")
	for _, spec := range Contract {
		b.WriteString("  " + spec.Key)
		switch {
		case spec.Required:
			b.WriteString(" (required)")
		case spec.Default != "":
			b.WriteString(" (default " + spec.Default + ")")
		}
		b.WriteString("\n      " + spec.Description + "\n")
		if spec.Notes != "" {
			b.WriteString("      " + spec.Notes + "\n")
		}
	}
	return b.String()
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken              string
	TestMode                   bool
	OpenAIKey                  string
	OpenAIBaseURL              string
	GPTModel                   string
	WhisperModel               string
	AllowedBusinessConnections []string
	AppEnv                     string
	LogLevel                   string
	HTTPPort                   int
	LedgerDriver               string
	LedgerPath                 string
	MongoURI                   string
	MongoDB                    string
	InvoicePrice               int
	PollTimeout                time.Duration
	DispatchWorkers            int
	RemoteTimeout              time.Duration
	UpdateTimeout              time.Duration
	BotCredit                  string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:                     firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TestMode:                   parseFlag(os.Getenv(KeyTestMode)),
		OpenAIKey:                  firstNonEmpty(os.Getenv(KeyOpenAIKey), os.Getenv(KeyOpenAIKeyLegacy)),
		OpenAIBaseURL:              strings.TrimSpace(os.Getenv(KeyOpenAIBaseURL)),
		GPTModel:                   firstNonEmpty(os.Getenv(KeyGPTModel), DefaultGPTModel),
		WhisperModel:               firstNonEmpty(os.Getenv(KeyWhisperModel), DefaultWhisperModel),
		AllowedBusinessConnections: ParseList(os.Getenv(KeyAllowedBusiness)),
		LogLevel:                   firstNonEmpty(os.Getenv(KeyLogLevel), DefaultLogLevel),
		LedgerDriver:               firstNonEmpty(strings.ToLower(os.Getenv(KeyLedgerDriver)), DefaultLedgerDriver),
		LedgerPath:                 firstNonEmpty(os.Getenv(KeyLedgerPath), DefaultLedgerPath),
		MongoURI:                   strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:                    strings.TrimSpace(os.Getenv(KeyMongoDB)),
		BotCredit:                  strings.TrimSpace(os.Getenv(KeyBotCredit)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TestMode {
		cfg.TelegramToken = strings.TrimSpace(os.Getenv(KeyTelegramTokenTest))
		if cfg.TelegramToken == "" {
			missing = append(missing, KeyTelegramTokenTest)
		}
	} else {
		cfg.TelegramToken = strings.TrimSpace(os.Getenv(KeyTelegramToken))
		if cfg.TelegramToken == "" {
			missing = append(missing, KeyTelegramToken)
		}
	}

	if cfg.OpenAIKey == "" {
		missing = append(missing, KeyOpenAIKey)
	}

	switch cfg.LedgerDriver {
	case LedgerSQLite:
	case LedgerMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	default:
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeyLedgerDriver, LedgerSQLite, LedgerMongo)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.LedgerDriver == LedgerMongo && !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if cfg.HTTPPort, err = positiveInt(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.InvoicePrice, err = positiveInt(KeyInvoicePrice, DefaultInvoicePrice); err != nil {
		return Config{}, err
	}
	if cfg.DispatchWorkers, err = positiveInt(KeyDispatchWorkers, DefaultDispatchWorkers); err != nil {
		return Config{}, err
	}

	pollSeconds, err := positiveInt(KeyPollTimeout, int(DefaultPollTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.PollTimeout = time.Duration(pollSeconds) * time.Second

	remoteSeconds, err := positiveInt(KeyRemoteTimeout, int(DefaultRemoteTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteTimeout = time.Duration(remoteSeconds) * time.Second

	updateSeconds, err := positiveInt(KeyUpdateTimeout, int(DefaultUpdateTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.UpdateTimeout = time.Duration(updateSeconds) * time.Second

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with credentials masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"test_mode: " + strconv.FormatBool(cfg.TestMode),
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"openai_api_key: " + maskSecret(cfg.OpenAIKey),
		"openai_base_url: " + cfg.OpenAIBaseURL,
		"gpt_model: " + cfg.GPTModel,
		"whisper_model: " + cfg.WhisperModel,
		"allowed_business_connections: " + strconv.Itoa(len(cfg.AllowedBusinessConnections)),
		"ledger_driver: " + cfg.LedgerDriver,
	}

	if cfg.LedgerDriver == LedgerMongo {
		lines = append(lines,
			"mongo_uri: "+redactURI(cfg.MongoURI),
			"mongo_db: "+cfg.MongoDB,
		)
	} else {
		lines = append(lines, "ledger_path: "+cfg.LedgerPath)
	}

	lines = append(lines,
		"invoice_price: "+strconv.Itoa(cfg.InvoicePrice),
		"poll_timeout: "+cfg.PollTimeout.String(),
		"dispatch_workers: "+strconv.Itoa(cfg.DispatchWorkers),
		"remote_timeout: "+cfg.RemoteTimeout.String(),
		"update_timeout: "+cfg.UpdateTimeout.String(),
	)

	return strings.Join(lines, "\n")
}

// ParseList accepts either a comma separated list or a bracketed list literal
// such as ['a', "b"] and returns the non-empty trimmed items.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")

	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		item := strings.Trim(strings.TrimSpace(part), `'"`)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func positiveInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	parsed.User = nil
	return parsed.String()
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
