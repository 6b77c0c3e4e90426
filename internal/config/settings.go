package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// SourceSettings selects and configures the availability source.
type SourceSettings struct {
	// Mode is one of SourceModeICS, SourceModeRedis or SourceModeHTTP.
	Mode string `yaml:"mode" validate:"oneof=ics redis http"`

	ICSDir  string `yaml:"ics_dir,omitempty"`
	ICSFile string `yaml:"ics_file,omitempty"`

	URL  string `yaml:"url,omitempty" validate:"omitempty,url"`
	User string `yaml:"user,omitempty"`

	// Password never touches the settings file; it comes from the environment
	// or the system keyring.
	Password string `yaml:"-"`

	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	// RedisPassword is only read from the environment.
	RedisPassword string        `yaml:"-"`
	RedisDB       int           `yaml:"redis_db,omitempty" validate:"gte=0"`
	RedisTTL      time.Duration `yaml:"redis_ttl,omitempty"`

	// Cache puts the Redis store in front of the HTTP source.
	Cache bool `yaml:"cache,omitempty"`
}

// Settings is the user configuration stored as YAML.
type Settings struct {
	TeacherID   string `yaml:"teacher_id" validate:"required"`
	TeacherName string `yaml:"teacher_name,omitempty"`
	// Directory is an optional vCard file resolving teacher names.
	Directory string `yaml:"directory,omitempty"`

	Language     string        `yaml:"language" validate:"omitempty,oneof=en fr zh-TW"`
	Timezone     string        `yaml:"timezone"`
	Port         string        `yaml:"port" validate:"required,numeric"`
	RefreshCron  string        `yaml:"refresh"`
	SlotMinutes  int           `yaml:"slot_minutes" validate:"gte=0,lte=1440"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	Source SourceSettings `yaml:"source"`
}

// DefaultSettings returns the first-run configuration.
func DefaultSettings() *Settings {
	return &Settings{
		Language:     DefaultLanguage,
		Timezone:     DefaultTimezone,
		Port:         DefaultPort,
		RefreshCron:  DefaultRefreshCron,
		SlotMinutes:  DefaultSlotMinutes,
		FetchTimeout: DefaultFetchTimeout,
		Source: SourceSettings{
			Mode:      DefaultSourceMode,
			ICSDir:    ".",
			RedisAddr: DefaultRedisAddr,
			RedisTTL:  DefaultRedisTTL,
		},
	}
}

// Normalize fills zero values so partially written files still work.
func (s *Settings) Normalize() {
	d := DefaultSettings()
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.Timezone == "" {
		s.Timezone = d.Timezone
	}
	if s.Port == "" {
		s.Port = d.Port
	}
	if s.RefreshCron == "" {
		s.RefreshCron = d.RefreshCron
	}
	if s.SlotMinutes < 0 {
		s.SlotMinutes = 0
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = d.FetchTimeout
	}
	if s.Source.Mode == "" {
		s.Source.Mode = d.Source.Mode
	}
	if s.Source.RedisAddr == "" {
		s.Source.RedisAddr = d.Source.RedisAddr
	}
	if s.Source.RedisTTL <= 0 {
		s.Source.RedisTTL = d.Source.RedisTTL
	}
}

// Validate checks field constraints and the requirements of the selected mode.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsInvalid, err)
	}
	switch s.Source.Mode {
	case SourceModeICS:
		if s.Source.ICSDir == "" && s.Source.ICSFile == "" {
			return fmt.Errorf("%s: %s", ErrSettingsInvalid, ErrLocalPathEmpty)
		}
	case SourceModeHTTP:
		if s.Source.URL == "" {
			return fmt.Errorf("%s: %s", ErrSettingsInvalid, ErrWebURLEmpty)
		}
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. DefaultTimezone selects time.Local.
func (s *Settings) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == DefaultTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", ErrTimezone, s.Timezone, err)
	}
	return loc, nil
}

// SlotLength returns SlotMinutes as a duration.
func (s *Settings) SlotLength() time.Duration {
	return time.Duration(s.SlotMinutes) * time.Minute
}

// SettingsPath returns the default settings location in the user config dir.
func SettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrConfigDir, err)
	}
	return filepath.Join(dir, AppID, SettingsFileName), nil
}

// LoadSettings reads path. On first run it writes the defaults (0600) and
// returns them. Environment overrides are applied after the file is read.
func LoadSettings(path string) (*Settings, error) {
	log := slog.With(LogKeyComponent, CompSettings, LogKeyFile, path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ErrSettingsLoad, err)
		}
		s := DefaultSettings()
		if err := SaveSettings(path, s); err != nil {
			return nil, err
		}
		log.Info(MsgSettingsCreated)
		s.ApplyEnv()
		return s, nil
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%s: %w", ErrSettingsLoad, err)
	}
	s.Normalize()
	s.ApplyEnv()
	return s, nil
}

// SaveSettings writes s atomically with owner-only permissions.
func SaveSettings(path string, s *Settings) error {
	if s == nil {
		return fmt.Errorf("%s: nil settings", ErrSettingsSave)
	}
	s.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermUserRWX); err != nil {
		return fmt.Errorf("%s: %w", ErrCreateDir, err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}
	if err := tmp.Chmod(FilePermUserRW); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsSave, err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment.
// Missing files are not an error; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{DotEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn(ErrSettingsLoad,
				LogKeyComponent, CompSettings,
				LogKeyFile, f,
				LogKeyError, err,
			)
		}
	}
}

// ApplyEnv overrides fields from GOSCHEDULE_* variables.
func (s *Settings) ApplyEnv() {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str(EnvTeacherID, &s.TeacherID)
	str(EnvTeacherName, &s.TeacherName)
	str(EnvLanguage, &s.Language)
	str(EnvTimezone, &s.Timezone)
	str(EnvPort, &s.Port)
	str(EnvSourceMode, &s.Source.Mode)
	str(EnvSourceURL, &s.Source.URL)
	str(EnvSourceUser, &s.Source.User)
	str(EnvSourcePassword, &s.Source.Password)
	str(EnvRedisAddr, &s.Source.RedisAddr)
	str(EnvRedisPassword, &s.Source.RedisPassword)

	if v, ok := os.LookupEnv(EnvPrefix + EnvSlotMinutes); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.SlotMinutes = n
		}
	}
}

// ResolvePassword fills Source.Password from the system keyring when the
// environment did not provide one.
func (s *Settings) ResolvePassword() {
	if s.Source.Password != "" || s.Source.User == "" {
		return
	}
	pass, err := keyring.Get(KeyringService, s.Source.User)
	if err != nil {
		slog.Debug(MsgPassFail,
			LogKeyComponent, CompSettings,
			LogKeyUser, s.Source.User,
			LogKeyError, err,
		)
		return
	}
	s.Source.Password = pass
}

// StorePassword saves the source password in the system keyring.
func (s *Settings) StorePassword(pass string) error {
	if err := keyring.Set(KeyringService, s.Source.User, pass); err != nil {
		return fmt.Errorf("%s: %w", ErrKeyring, err)
	}
	s.Source.Password = pass
	return nil
}
