package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config representa a estrutura completa do config.yaml
type Config struct {
	Electricity Electricity `yaml:"electricity"`
	Captcha     Captcha     `yaml:"captcha"`
	Browser     Browser     `yaml:"browser"`
	Database    Database    `yaml:"database"`

	// Infraestrutura opcional: endereço vazio desliga o componente
	Redis struct {
		Address  string `yaml:"address" env:"REDIS_ADDRESS"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	Nats struct {
		URL             string        `yaml:"url" env:"NATS_URL"`
		SolverSubject   string        `yaml:"solver_subject" env:"NATS_SOLVER_SUBJECT"`
		SnapshotSubject string        `yaml:"snapshot_subject" env:"NATS_SNAPSHOT_SUBJECT"`
		Timeout         time.Duration `yaml:"timeout" env:"NATS_TIMEOUT"`
	} `yaml:"nats"`

	Search struct {
		URL    string `yaml:"url" env:"MEILI_URL"`
		APIKey string `yaml:"api_key" env:"MEILI_API_KEY"`
		Index  string `yaml:"index" env:"MEILI_INDEX"`
	} `yaml:"search"`

	Web struct {
		Port string `yaml:"port" env:"WEB_PORT"`
	} `yaml:"web"`

	Schedule struct {
		Cron         string        `yaml:"cron" env:"SCHEDULE_CRON"`
		RunOnStart   bool          `yaml:"run_on_start" env:"RUN_ON_START"`
		InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
		// LockTTL é o teto de um ciclo segurando o lock; precisa cobrir o ciclo mais lento.
		LockTTL      time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	} `yaml:"schedule"`

	Logger struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"logger"`
}

// Electricity agrupa tudo que o driver de sessão precisa.
type Electricity struct {
	PhoneNumber        string        `yaml:"phone_number" env:"PHONE_NUMBER"`
	Password           string        `yaml:"password" env:"PASSWORD"`
	ImplicitWait       time.Duration `yaml:"implicit_wait" env:"IMPLICIT_WAIT"`
	RetryTimesLimit    int           `yaml:"retry_times_limit" env:"RETRY_TIMES_LIMIT"`
	WaitUnit           time.Duration `yaml:"wait_unit" env:"RETRY_WAIT_TIME_OFFSET_UNIT"`
	LoginExpectedTime  time.Duration `yaml:"login_expected_time" env:"LOGIN_EXPECTED_TIME"`
	DataRetentionDays  int           `yaml:"data_retention_days" env:"DATA_RETENTION_DAYS"`
	IgnoreUserID       []string      `yaml:"ignore_user_id" env:"IGNORE_USER_ID" env-separator:","`
	OffsetCompensation float64       `yaml:"offset_compensation" env:"OFFSET_COMPENSATION"`
	LoginURL           string        `yaml:"login_url" env:"LOGIN_URL"`
	BalanceURL         string        `yaml:"balance_url" env:"BALANCE_URL"`
	UsageURL           string        `yaml:"usage_url" env:"ELECTRIC_USAGE_URL"`
}

type Captcha struct {
	// Solver: edge, onnx ou nats
	Solver         string `yaml:"solver" env:"CAPTCHA_SOLVER"`
	Fallback       bool   `yaml:"fallback" env:"CAPTCHA_FALLBACK"`
	ModelPath      string `yaml:"model_path" env:"CAPTCHA_MODEL_PATH"`
	OnnxRuntimeLib string `yaml:"onnxruntime_lib" env:"ONNXRUNTIME_LIB"`
	InputSize      int    `yaml:"input_size" env:"CAPTCHA_INPUT_SIZE"`
	MinMargin      int    `yaml:"min_margin" env:"CAPTCHA_MIN_MARGIN"`
	DatasetDir     string `yaml:"dataset_dir" env:"CAPTCHA_DATASET_DIR"`
}

type Browser struct {
	Bin         string `yaml:"bin" env:"BROWSER_BIN"`
	Headless    bool   `yaml:"headless" env:"BROWSER_HEADLESS"`
	MonitorAddr string `yaml:"monitor_addr" env:"BROWSER_MONITOR_ADDR"`
	ProfileDir  string `yaml:"profile_dir" env:"BROWSER_PROFILE_DIR"`
}

type Database struct {
	// Driver: sqlite ou postgres
	Driver string `yaml:"driver" env:"DB_DRIVER"`
	Path   string `yaml:"path" env:"DB_PATH"`
	URL    string `yaml:"url" env:"DATABASE_URL"`
}

const (
	DefaultLoginURL   = "https://www.95598.cn/osgweb/login"
	DefaultBalanceURL = "https://www.95598.cn/osgweb/userAcc"
	DefaultUsageURL   = "https://www.95598.cn/osgweb/electricityCharge"
)

var (
	ErrMissingCredentials = errors.New("phone_number e password são obrigatórios")
	ErrRetention          = errors.New("data_retention_days deve ser 7 ou 30")
)

// Default retorna a configuração usada quando nada é informado.
func Default() *Config {
	cfg := &Config{}
	cfg.Electricity = Electricity{
		ImplicitWait:       60 * time.Second,
		RetryTimesLimit:    5,
		WaitUnit:           10 * time.Second,
		LoginExpectedTime:  60 * time.Second,
		DataRetentionDays:  7,
		OffsetCompensation: 1.06,
		LoginURL:           DefaultLoginURL,
		BalanceURL:         DefaultBalanceURL,
		UsageURL:           DefaultUsageURL,
	}
	cfg.Captcha = Captcha{Solver: "edge", Fallback: true, InputSize: 416, MinMargin: 10}
	cfg.Browser = Browser{Headless: true}
	cfg.Database = Database{Driver: "sqlite", Path: "homeassistant.db"}
	cfg.Nats.SolverSubject = "jobs.captcha.slider"
	cfg.Nats.SnapshotSubject = "sgcc.electricity.snapshot"
	cfg.Nats.Timeout = 15 * time.Second
	cfg.Search.Index = "sgcc_accounts"
	cfg.Web.Port = ":8000"
	cfg.Schedule.Cron = "0 0 7,19 * * *"
	cfg.Schedule.InitialDelay = 10 * time.Second
	cfg.Schedule.LockTTL = 2 * time.Hour
	cfg.Logger.Level = "info"
	return cfg
}

// findConfigPath segue a mesma ordem de sempre: CONFIG_PATH, depois subindo pastas.
func findConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	for _, candidate := range []string{"config.yaml", "config/config.yaml", "../../config/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// LoadConfig lê o YAML (se existir), aplica variáveis de ambiente e valida.
func LoadConfig() (*Config, error) {
	return Load(findConfigPath())
}

// Load é LoadConfig com caminho explícito. Caminho vazio usa só defaults + env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		absPath, _ := filepath.Abs(path)
		slog.Debug("carregando config", "path", absPath)

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("erro lendo config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("erro ao decodificar YAML: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("erro lendo variáveis de ambiente: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejeita combinações que fariam o ciclo falhar de qualquer jeito.
func (c *Config) Validate() error {
	e := c.Electricity
	if e.PhoneNumber == "" || e.Password == "" {
		return ErrMissingCredentials
	}
	if e.DataRetentionDays != 7 && e.DataRetentionDays != 30 {
		return fmt.Errorf("%w: %d", ErrRetention, e.DataRetentionDays)
	}
	if e.RetryTimesLimit < 1 {
		return fmt.Errorf("retry_times_limit deve ser >= 1, recebido %d", e.RetryTimesLimit)
	}
	if e.ImplicitWait <= 0 {
		return fmt.Errorf("implicit_wait deve ser positivo")
	}
	if e.OffsetCompensation <= 0 {
		return fmt.Errorf("offset_compensation deve ser positivo")
	}
	// um passo travado não pode sozinho estourar o lock
	if c.Schedule.LockTTL < 2*e.ImplicitWait {
		return fmt.Errorf("schedule.lock_ttl (%s) deve ser ao menos 2x implicit_wait (%s)", c.Schedule.LockTTL, e.ImplicitWait)
	}
	switch c.Captcha.Solver {
	case "edge":
	case "onnx":
		if c.Captcha.ModelPath == "" {
			return fmt.Errorf("captcha.model_path é obrigatório para solver onnx")
		}
	case "nats":
		if c.Nats.URL == "" {
			return fmt.Errorf("nats.url é obrigatório para solver nats")
		}
	default:
		return fmt.Errorf("captcha.solver desconhecido: %q", c.Captcha.Solver)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path é obrigatório para sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url é obrigatório para postgres")
		}
	default:
		return fmt.Errorf("database.driver desconhecido: %q", c.Database.Driver)
	}
	return nil
}

// Ignored indica se a conta está na lista de exclusão.
func (e Electricity) Ignored(id string) bool {
	for _, ignored := range e.IgnoreUserID {
		if ignored == id {
			return true
		}
	}
	return false
}

// LogLevel converte logger.level para slog.Level.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logger.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
