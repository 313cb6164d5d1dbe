package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix - префикс переменных окружения, переопределяющих файл.
const EnvPrefix = "RECALLAI_"

const maxConfigFileSize = 1024 * 1024

// LoadSettings собирает настройки из трёх слоёв (по возрастанию приоритета):
// значения по умолчанию, YAML-файл, переменные окружения RECALLAI_*.
//
//	RECALLAI_BACKEND_PORT      -> backend.port
//	RECALLAI_UI_LANGUAGE       -> ui.language
//	RECALLAI_SESSION_LOST_AFTER -> session.lost_after
//
// Отсутствующий файл не считается ошибкой.
func LoadSettings(path string) (Settings, error) {
	k := koanf.New(".")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Settings{}, fmt.Errorf("marshal defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), kyaml.Parser()); err != nil {
		return Settings{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Settings{}, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), kyaml.Parser()); err != nil {
				return Settings{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Settings{}, fmt.Errorf("load environment: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// envKey переводит RECALLAI_SECTION_FIELD_NAME в section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// writeSettings атомарно записывает настройки в YAML-файл с правами 0600.
func writeSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
