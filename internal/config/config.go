package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"dailybrief/internal/aws"
	"dailybrief/internal/briefing"
	"dailybrief/internal/mailer"

	log "github.com/sirupsen/logrus"
	"github.com/sizzlei/confloader"
	"gopkg.in/yaml.v3"
)

// Section is one named block of raw settings.
type Section map[string]interface{}

var sectionNames = []string{"repository", "server", "scheduler", "llm", "mail", "redis", "slack", "log"}

// Config is the typed service configuration.
type Config struct {
	Repository aws.DBI
	Server     ServerConfig
	Scheduler  SchedulerConfig
	LLM        briefing.GeneratorConfig
	Mail       MailConfig
	Redis      RedisConfig
	Slack      SlackConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port       string
	AdminToken string
	// RateLimit is the max trigger calls per minute per client; 0 disables it.
	RateLimit int
}

type SchedulerConfig struct {
	Enabled       bool
	Spec          string
	Workers       int
	UserTimeout   time.Duration
	ClaimTTL      time.Duration
	TriggerSecret string
	TrustedAgents []string
}

type MailConfig struct {
	From          string
	InboundDomain string
	SMTP          mailer.SMTPConfig
}

type RedisConfig struct {
	URL string
}

type SlackConfig struct {
	BotToken     string
	Channel      string
	OnlyFailures bool
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadParamStore reads every section from an AWS Parameter Store key.
func LoadParamStore(region, path string) (*Config, error) {
	conf, err := confloader.AWSParamLoader(region, path)
	if err != nil {
		return nil, fmt.Errorf("parameter store %s: %w", path, err)
	}
	sections := make(map[string]Section, len(sectionNames))
	for _, name := range sectionNames {
		sections[name] = toSection(conf.Keyload(name))
	}
	return FromSections(sections)
}

// LoadFile reads the same sections from a YAML file.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sections map[string]Section
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromSections(sections)
}

// toSection normalises a decoded key block into a Section.
func toSection(v interface{}) Section {
	switch m := v.(type) {
	case map[string]interface{}:
		return Section(m)
	case map[interface{}]interface{}:
		out := make(Section, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return Section{}
	}
	out := make(Section, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
	}
	return out
}

// FromSections builds a Config, applying defaults and the SERVER_PORT override.
func FromSections(sections map[string]Section) (*Config, error) {
	repo := sections["repository"]
	server := sections["server"]
	sched := sections["scheduler"]
	llm := sections["llm"]
	mail := sections["mail"]
	slack := sections["slack"]
	logs := sections["log"]

	cfg := &Config{
		Repository: aws.DBI{
			User:            repo.String("User", ""),
			Password:        repo.String("Password", ""),
			Endpoint:        repo.String("Endpoint", ""),
			Port:            repo.Int("Port", 3306),
			Database:        repo.String("Database", ""),
			MaxOpenConns:    repo.Int("MaxOpenConns", 10),
			MaxIdleConns:    repo.Int("MaxIdleConns", 5),
			ConnMaxLifetime: repo.Duration("ConnMaxLifetime", 5*time.Minute),
		},
		Server: ServerConfig{
			Port:       server.String("Port", "3000"),
			AdminToken: server.String("AdminToken", ""),
			RateLimit:  server.Int("RateLimit", 30),
		},
		Scheduler: SchedulerConfig{
			Enabled:       sched.Bool("Enabled", true),
			Spec:          sched.String("Spec", "@every 5m"),
			Workers:       sched.Int("Workers", 4),
			UserTimeout:   sched.Duration("UserTimeout", 2*time.Minute),
			ClaimTTL:      sched.Duration("ClaimTTL", 0),
			TriggerSecret: sched.String("TriggerSecret", ""),
			TrustedAgents: sched.Strings("TrustedAgents"),
		},
		LLM: briefing.GeneratorConfig{
			Provider:    llm.String("Provider", "openai"),
			APIKey:      llm.String("APIKey", ""),
			BaseURL:     llm.String("BaseURL", ""),
			Model:       llm.String("Model", ""),
			Temperature: llm.Float("Temperature", 0.2),
			MaxTokens:   llm.Int("MaxTokens", 0),
			Timeout:     llm.Duration("Timeout", 90*time.Second),
		},
		Mail: MailConfig{
			From:          mail.String("From", "Daily Briefing <dailybriefing@localhost>"),
			InboundDomain: mail.String("InboundDomain", ""),
			SMTP: mailer.SMTPConfig{
				Host:     mail.String("Host", ""),
				Port:     mail.Int("Port", 587),
				Username: mail.String("Username", ""),
				Password: mail.String("Password", ""),
				Security: mail.String("Security", "starttls"),
				Timeout:  mail.Duration("Timeout", 30*time.Second),
			},
		},
		Redis: RedisConfig{URL: sections["redis"].String("URL", "")},
		Slack: SlackConfig{
			BotToken:     slack.String("BotToken", ""),
			Channel:      slack.String("Channel", ""),
			OnlyFailures: slack.Bool("OnlyFailures", false),
		},
		Log: LogConfig{
			Level:  logs.String("Level", "info"),
			Format: logs.String("Format", "text"),
		},
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if cfg.Scheduler.TriggerSecret == "" && len(cfg.Scheduler.TrustedAgents) == 0 {
		log.Warn("no trigger secret or trusted agent configured; the HTTP trigger will reject every call")
	}
	return cfg, nil
}

// SetupLogging applies the log section to the package-level logrus logger.
func SetupLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// String returns key as a string, or def when absent.
func (s Section) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Int accepts integer, float and numeric string values.
func (s Section) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func (s Section) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func (s Section) Bool(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Duration accepts Go duration strings ("90s", "2m") or a number of seconds.
func (s Section) Duration(key string, def time.Duration) time.Duration {
	switch v := s[key].(type) {
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

// Strings accepts a list or a comma-separated string.
func (s Section) Strings(key string) []string {
	var out []string
	switch v := s[key].(type) {
	case []interface{}:
		for _, item := range v {
			if str := strings.TrimSpace(fmt.Sprint(item)); str != "" {
				out = append(out, str)
			}
		}
	case []string:
		for _, item := range v {
			if str := strings.TrimSpace(item); str != "" {
				out = append(out, str)
			}
		}
	case string:
		for _, item := range strings.Split(v, ",") {
			if str := strings.TrimSpace(item); str != "" {
				out = append(out, str)
			}
		}
	}
	return out
}
