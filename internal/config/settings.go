// Package config aggregates the server settings read from the environment
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	envcfg "github.com/Kensan196948G/ServiceGrid-sub004/config"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/constants"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/notify"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/scheduler"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
)

// DefaultShutdownTimeout bounds graceful shutdown when nothing else is configured
const DefaultShutdownTimeout = 30 * time.Second

// Settings is everything the server reads from the environment at startup
type Settings struct {
	Port string

	DBEnabled bool
	DB        db.Options

	PolicyFile   string
	WorkflowFile string
	AdaptersFile string

	RetentionWindow    time.Duration
	SweepInterval      time.Duration
	SLAMonitorInterval time.Duration
	ShutdownTimeout    time.Duration

	EscalationWebhookURL     string
	EscalationWebhookTimeout time.Duration

	// Archive is nil when no object storage endpoint is configured
	Archive *audit.ArchiveOptions
}

// Load reads the settings from the environment and validates them
func Load() (*Settings, error) {
	sslEnabled := envcfg.GetEnvBool(constants.EnvDBSSLEnabled, db.DefaultSSLEnabled)
	s := &Settings{
		Port:      envcfg.GetEnv(constants.EnvServerPort, "8080"),
		DBEnabled: envcfg.GetEnvBool(constants.EnvDBEnabled, true),
		DB: db.Options{
			Host:         envcfg.GetEnv(constants.EnvDBHost, db.DefaultHost),
			Port:         envcfg.GetEnvInt(constants.EnvDBPort, db.DefaultPort),
			User:         envcfg.GetEnv(constants.EnvDBUser, db.DefaultUser),
			Password:     envcfg.GetEnv(constants.EnvDBPassword, db.DefaultPassword),
			DBName:       envcfg.GetEnv(constants.EnvDBName, db.DefaultDBName),
			SSLEnabled:   &sslEnabled,
			MaxOpenConns: envcfg.GetEnvInt(constants.EnvDBMaxOpenConns, db.DefaultMaxOpenConns),
		},
		PolicyFile:               envcfg.GetEnv(constants.EnvPolicyFile, ""),
		WorkflowFile:             envcfg.GetEnv(constants.EnvWorkflowFile, ""),
		AdaptersFile:             envcfg.GetEnv(constants.EnvAdaptersFile, ""),
		RetentionWindow:          envcfg.GetEnvDuration(constants.EnvRetentionWindow, scheduler.DefaultRetentionWindow),
		SweepInterval:            envcfg.GetEnvDuration(constants.EnvSweepInterval, scheduler.DefaultSweepInterval),
		SLAMonitorInterval:       envcfg.GetEnvDuration(constants.EnvSLAMonitorInterval, workflow.DefaultSLAMonitorInterval),
		ShutdownTimeout:          envcfg.GetEnvDuration(constants.EnvShutdownTimeout, DefaultShutdownTimeout),
		EscalationWebhookURL:     envcfg.GetEnv(constants.EnvEscalationWebhookURL, ""),
		EscalationWebhookTimeout: envcfg.GetEnvDuration(constants.EnvEscalationWebhookTimeout, notify.DefaultTimeout),
	}

	if endpoint := envcfg.GetEnv(constants.EnvArchiveEndpoint, ""); endpoint != "" {
		s.Archive = &audit.ArchiveOptions{
			Endpoint:  endpoint,
			AccessKey: envcfg.GetEnv(constants.EnvArchiveAccessKey, ""),
			SecretKey: envcfg.GetEnv(constants.EnvArchiveSecretKey, ""),
			Bucket:    envcfg.GetEnv(constants.EnvArchiveBucket, "servicegrid-audit"),
			Prefix:    envcfg.GetEnv(constants.EnvArchivePrefix, ""),
			UseSSL:    envcfg.GetEnvBool(constants.EnvArchiveUseSSL, true),
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for values the server cannot start with
func (s *Settings) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(s.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("%s: invalid port %q", constants.EnvServerPort, s.Port))
	}
	if s.DBEnabled && (s.DB.Port <= 0 || s.DB.Port > 65535) {
		errs = append(errs, fmt.Errorf("%s: invalid port %d", constants.EnvDBPort, s.DB.Port))
	}
	for name, d := range map[string]time.Duration{
		constants.EnvRetentionWindow:    s.RetentionWindow,
		constants.EnvSweepInterval:      s.SweepInterval,
		constants.EnvSLAMonitorInterval: s.SLAMonitorInterval,
		constants.EnvShutdownTimeout:    s.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.Archive != nil && s.Archive.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s is required with %s", constants.EnvArchiveBucket, constants.EnvArchiveEndpoint))
	}
	return errors.Join(errs...)
}
