package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Бэкенды меток загрузки.
const (
	LockBackendDir    = "dir"
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Бэкенды событий архива.
const (
	EventsBackendNone   = ""
	EventsBackendRedis  = "redis"
	EventsBackendRabbit = "rabbitmq"
)

// ErrNoArchives возвращается, когда не удалось определить ни одного архива.
var ErrNoArchives = errors.New("не задано ни одного архива")

// AppConfig описывает конфигурацию архиватора из окружения.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"prod"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	TZ          string `envconfig:"TZ"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	Download struct {
		Workers   int           `envconfig:"DOWNLOAD_WORKERS" default:"10"`
		QueueSize int           `envconfig:"DOWNLOAD_QUEUE_SIZE" default:"5000"`
		ChunkSize int           `envconfig:"DOWNLOAD_CHUNK_SIZE" default:"4096"`
		Timeout   time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"10m"`
		AuthHosts []string      `envconfig:"DOWNLOAD_AUTH_HOSTS" default:"files.slack.com"`
	} `envconfig:""`

	LockBackend string        `envconfig:"LOCK_BACKEND" default:"dir"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"30m"`

	Slack struct {
		APIURL   string        `envconfig:"SLACK_API_URL" default:"https://slack.com/api"`
		PageSize int           `envconfig:"SLACK_PAGE_SIZE" default:"1000"`
		Timeout  time.Duration `envconfig:"SLACK_TIMEOUT" default:"30s"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Events struct {
		Backend     string `envconfig:"EVENTS_BACKEND"`
		RabbitMQURL string `envconfig:"RABBITMQ_URL"`
		Queue       string `envconfig:"EVENTS_QUEUE" default:"archive_events"`
	} `envconfig:""`
}

// Load читает .env (если он есть) и затем окружение.
func Load() (AppConfig, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return AppConfig{}, fmt.Errorf("load .env: %w", err)
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые envconfig не может проверить сам.
func (c AppConfig) Validate() error {
	switch c.LockBackend {
	case LockBackendDir, LockBackendMemory:
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("LOCK_BACKEND=redis требует REDIS_ADDR")
		}
	default:
		return fmt.Errorf("неизвестный LOCK_BACKEND %q", c.LockBackend)
	}
	switch c.Events.Backend {
	case EventsBackendNone:
	case EventsBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("EVENTS_BACKEND=redis требует REDIS_ADDR")
		}
	case EventsBackendRabbit:
		if c.Events.RabbitMQURL == "" {
			return errors.New("EVENTS_BACKEND=rabbitmq требует RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("неизвестный EVENTS_BACKEND %q", c.Events.Backend)
	}
	if c.Download.Workers <= 0 || c.Download.QueueSize <= 0 || c.Download.ChunkSize <= 0 {
		return errors.New("параметры загрузки должны быть положительными")
	}
	return nil
}

// Location возвращает зону для границ дней: TZ или локальную.
func (c AppConfig) Location() (*time.Location, error) {
	if c.TZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("load tz %q: %w", c.TZ, err)
	}
	return loc, nil
}

// Archive один архив: каталог, токен Slack и имя для логов.
type Archive struct {
	Dir   string `yaml:"dir"`
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

type archivesFile struct {
	Archives []Archive `yaml:"archives"`
}

// DefaultArchivesFile путь файла архивов по умолчанию.
func DefaultArchivesFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".slack-archiver", "config.yaml")
}

// LoadArchivesFile читает YAML со списком архивов. Относительный dir считается от каталога файла.
func LoadArchivesFile(path string) ([]Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archives file: %w", err)
	}
	var file archivesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse archives file: %w", err)
	}
	base := filepath.Dir(path)
	out := make([]Archive, 0, len(file.Archives))
	for i, a := range file.Archives {
		if a.Dir == "" {
			return nil, fmt.Errorf("archives[%d]: dir is empty", i)
		}
		name := a.Name
		if name == "" {
			name = a.Dir
		}
		dir := ExpandHome(a.Dir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		out = append(out, Archive{Dir: dir, Token: a.Token, Name: name})
	}
	return out, nil
}

// ParseArchiveArg разбирает "token:path". Токен может отсутствовать: "path" или ":path".
// Делим по последнему двоеточию, так что двоеточия в токене допустимы.
func ParseArchiveArg(arg string) Archive {
	token, path := "", arg
	if i := strings.LastIndex(arg, ":"); i >= 0 {
		token, path = arg[:i], arg[i+1:]
	}
	path = ExpandHome(path)
	return Archive{Dir: path, Token: token, Name: path}
}

// ExpandHome раскрывает ведущий ~ в домашний каталог.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
