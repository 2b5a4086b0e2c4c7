package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	AuthSecret string `yaml:"auth_secret"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL           string        `yaml:"url"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	BreadcrumbTTL time.Duration `yaml:"breadcrumb_ttl"`
}

type GeneratorConfig struct {
	Binary           string            `yaml:"binary"`
	TemplateDir      string            `yaml:"template_dir"`
	InstructionsFile string            `yaml:"instructions_file"`
	WorkspaceRoot    string            `yaml:"workspace_root"`
	Env              map[string]string `yaml:"env"`
	// Timed stage promotion delays, both measured from job start.
	ScaffoldingAfter time.Duration `yaml:"scaffolding_after"`
	CodingAfter      time.Duration `yaml:"coding_after"`
	Workers          int           `yaml:"workers"`
}

type InstallerConfig struct {
	InstallCmd     []string `yaml:"install_cmd"`
	IncrementalCmd []string `yaml:"incremental_cmd"`
	SchemaCmd      []string `yaml:"schema_cmd"`
	SeedCmd        []string `yaml:"seed_cmd"`
	SeedFile       string   `yaml:"seed_file"`
}

type PreviewConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Generator GeneratorConfig `yaml:"generator"`
	Installer InstallerConfig `yaml:"installer"`
	Preview   PreviewConfig   `yaml:"preview"`
	Janitor   JanitorConfig   `yaml:"janitor"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Generator.Binary == "" {
		cfg.Generator.Binary = "appgen"
	}
	if cfg.Generator.WorkspaceRoot == "" {
		cfg.Generator.WorkspaceRoot = "workspaces"
	}
	if cfg.Generator.ScaffoldingAfter <= 0 {
		cfg.Generator.ScaffoldingAfter = 8 * time.Second
	}
	if cfg.Generator.CodingAfter <= cfg.Generator.ScaffoldingAfter {
		cfg.Generator.CodingAfter = cfg.Generator.ScaffoldingAfter + 17*time.Second
	}
	if cfg.Generator.Workers <= 0 {
		cfg.Generator.Workers = 4
	}
	if len(cfg.Installer.InstallCmd) == 0 {
		cfg.Installer.InstallCmd = []string{"npm", "install"}
	}
	if len(cfg.Installer.IncrementalCmd) == 0 {
		cfg.Installer.IncrementalCmd = []string{"npm", "install", "--prefer-offline", "--no-audit"}
	}
	if len(cfg.Installer.SchemaCmd) == 0 {
		cfg.Installer.SchemaCmd = []string{"npx", "prisma", "db", "push", "--skip-generate"}
	}
	if len(cfg.Installer.SeedCmd) == 0 {
		cfg.Installer.SeedCmd = []string{"npx", "prisma", "db", "seed"}
	}
	if cfg.Installer.SeedFile == "" {
		cfg.Installer.SeedFile = "prisma/seed.ts"
	}
	if cfg.Preview.PollInterval <= 0 {
		cfg.Preview.PollInterval = 2 * time.Second
	}
	if cfg.Preview.Timeout <= 0 {
		cfg.Preview.Timeout = 5 * time.Minute
	}
	if cfg.Redis.BreadcrumbTTL <= 0 {
		cfg.Redis.BreadcrumbTTL = 24 * time.Hour
	}
	if cfg.Janitor.Interval <= 0 {
		cfg.Janitor.Interval = 10 * time.Minute
	}
	if cfg.Janitor.MaxAge <= 0 {
		cfg.Janitor.MaxAge = time.Hour
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Generator.TemplateDir == "" {
		return nil, errors.New("generator.template_dir is required")
	}
	if cfg.Preview.BaseURL == "" {
		return nil, errors.New("preview.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
