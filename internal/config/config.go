package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend — хранилище очередей и состояния.
type Backend string

const (
	// BackendPostgres — PostgreSQL; несколько процессов workers.
	BackendPostgres Backend = "postgres"

	// BackendBadger — встроенный Badger; один процесс, workers внутри scheduler.
	BackendBadger Backend = "badger"
)

// Duration — time.Duration, записанная в TOML строкой ("2s", "10m").
type Duration struct {
	time.Duration
}

// UnmarshalText разбирает строку через time.ParseDuration.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText записывает длительность строкой.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Store — параметры хранилища.
type Store struct {
	Backend    Backend `toml:"backend"`
	DSN        string  `toml:"dsn"`
	MaxConns   int     `toml:"max_conns"`
	BadgerPath string  `toml:"badger_path"`
}

// RabbitMQ — параметры брокера событий. Без брокера workers
// только опрашивают очереди.
type RabbitMQ struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// Workers — параметры пула workers.
type Workers struct {
	Concurrency  int      `toml:"concurrency"`
	IdleWait     Duration `toml:"idle_wait"`
	LeaseTimeout Duration `toml:"lease_timeout"`
}

// Scheduler — параметры scheduler.
type Scheduler struct {
	// PollInterval — как часто проверяются очереди активной стадии.
	PollInterval Duration `toml:"poll_interval"`

	// Cron — расписание повторных fresh-запусков; пусто — один запуск.
	Cron string `toml:"cron"`

	// LockPath — файл блокировки единственного экземпляра scheduler.
	LockPath string `toml:"lock_path"`

	// AdvisoryLockID — ключ pg_advisory_lock для backend postgres.
	AdvisoryLockID int64 `toml:"advisory_lock_id"`

	// Workers — число workers внутри процесса scheduler (0 — нет).
	Workers int `toml:"workers"`
}

// HTTP — адрес /healthz, /metrics и API статуса.
type HTTP struct {
	Addr string `toml:"addr"`

	// APIURL — куда ходит CLI conveyor.
	APIURL string `toml:"api_url"`
}

// Environment — что попадает в snapshot окружения.
type Environment struct {
	Prefixes []string `toml:"prefixes"`
}

// Config — вся конфигурация Conveyor.
//
// Секции:
//   - Store: PostgreSQL или Badger
//   - RabbitMQ: события и пробуждение workers
//   - Workers: размер пула, ожидание, lease
//   - Scheduler: опрос очередей, cron, блокировки
//   - HTTP: служебные endpoints
//   - Environment: префиксы переменных snapshot
type Config struct {
	Pipeline    string      `toml:"pipeline"`
	Store       Store       `toml:"store"`
	RabbitMQ    RabbitMQ    `toml:"rabbitmq"`
	Workers     Workers     `toml:"workers"`
	Scheduler   Scheduler   `toml:"scheduler"`
	HTTP        HTTP        `toml:"http"`
	Environment Environment `toml:"environment"`
}

// SampleConfig возвращает пример конфигурации с комментариями.
func SampleConfig() string {
	return sampleConfig
}

// Load находит, читает и валидирует конфигурацию.
//
// Возвращает конфигурацию, путь к файлу и признак того, что файл
// существовал. Отсутствующий файл не ошибка: остаются значения
// по умолчанию и переменные окружения.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// resolveConfigPath: явный путь, затем ./conveyor.toml,
// затем ~/.config/conveyor/config.toml.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("conveyor.toml")
	if err != nil {
		return "", false, err
	}

	defaultPath, err := expandPath("~/.config/conveyor/config.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
