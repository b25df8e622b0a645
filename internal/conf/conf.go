// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package conf holds the static configuration of the adjust driver: where the
// pipeline lives, which settings map to which paths of the pipeline
// definition and how the resulting fleet is verified.
package conf

import (
	"time"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	libconf "github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

const (
	DefaultUser                = "adjust"
	DefaultDeployTimeout       = 30 * time.Minute
	DefaultPollInterval        = 10 * time.Second
	DefaultHealthTimeout       = 10 * time.Minute
	DefaultHealthRetryInterval = 15 * time.Second
	DefaultProbeTimeout        = 5 * time.Second
	DefaultNovaAvailability    = "public"
)

const (
	FreshModeChanged  = "changed"
	FreshModeDisjoint = "disjoint"

	CodecChoices = "choices"
	CodecScale   = "scale"
)

// Config is the root of the configuration file.
type Config struct {
	libconf.LoggingConfig    `json:"logging"`
	libconf.MonitoringConfig `json:"monitoring"`

	Pipeline PipelineConfig `json:"pipeline"`
	// Adjustable settings, keyed by component name.
	Components map[string]ComponentConfig `json:"components" validate:"required,min=1,dive"`
	// Fleet verification after the deployment. Skipped when unset.
	HealthCheck *HealthCheckConfig `json:"healthCheck,omitempty" validate:"omitempty"`
}

// Identifies a pipeline of an application.
type PipelineRef struct {
	Application string `json:"application" validate:"required"`
	Pipeline    string `json:"pipeline" validate:"required"`
}

type PipelineConfig struct {
	// Base URL of the pipeline service API.
	URL string            `json:"url" validate:"required,url"`
	SSO libconf.SSOConfig `json:"sso,omitempty"`

	// The pipeline whose definition is rewritten.
	Update PipelineRef `json:"update"`
	// The pipeline that is executed, defaults to Update.
	Invoke *PipelineRef `json:"invoke,omitempty" validate:"omitempty"`

	// User recorded on the execution.
	User string `json:"user,omitempty"`
	// Static execution parameters. When empty, the request annotations are
	// passed instead.
	Parameters map[string]any `json:"parameters,omitempty"`

	DeployTimeoutSeconds int `json:"deployTimeoutSeconds,omitempty" validate:"gte=0"`
	PollIntervalSeconds  int `json:"pollIntervalSeconds,omitempty" validate:"gte=0"`
}

func (c PipelineConfig) InvokeRef() PipelineRef {
	if c.Invoke != nil {
		return *c.Invoke
	}
	return c.Update
}

func (c PipelineConfig) UserOrDefault() string {
	if c.User == "" {
		return DefaultUser
	}
	return c.User
}

func (c PipelineConfig) DeployTimeout() time.Duration {
	return seconds(c.DeployTimeoutSeconds, DefaultDeployTimeout)
}

func (c PipelineConfig) PollInterval() time.Duration {
	return seconds(c.PollIntervalSeconds, DefaultPollInterval)
}

type ComponentConfig struct {
	Settings map[string]SettingConfig `json:"settings" validate:"required,min=1,dive"`
}

// SettingConfig declares where a setting lives in the pipeline definition.
type SettingConfig struct {
	// Path expressions that all receive the value, in order.
	Paths []string `json:"paths" validate:"required,min=1,dive,required"`
	// Coerce the value to an integer before writing it.
	Integer bool `json:"integer,omitempty"`
	// The value of this setting is the expected number of hosts.
	HostCount bool `json:"hostCount,omitempty"`

	// Describes the setting in query output.
	Type   string   `json:"type,omitempty" validate:"omitempty,oneof=range enum"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Step   *float64 `json:"step,omitempty"`
	Values []any    `json:"values,omitempty"`

	Codec *CodecConfig `json:"codec,omitempty" validate:"omitempty"`
}

// Translates between request values and values in the pipeline definition.
type CodecConfig struct {
	Name string `json:"name" validate:"required,oneof=choices scale"`
	// Multiplier used by the scale codec.
	Factor float64 `json:"factor,omitempty"`
}

type HealthCheckConfig struct {
	TimeoutSeconds       int `json:"timeoutSeconds,omitempty" validate:"gte=0"`
	RetryIntervalSeconds int `json:"retryIntervalSeconds,omitempty" validate:"gte=0"`

	Registry RegistryConfig `json:"registry"`

	// At most one strategy may be configured. Without any, the freshness
	// strategy is used in its default mode.
	Fresh *FreshConfig `json:"fresh,omitempty" validate:"omitempty"`
	Probe *ProbeConfig `json:"probe,omitempty" validate:"omitempty"`
}

func (c HealthCheckConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, DefaultHealthTimeout)
}

func (c HealthCheckConfig) RetryInterval() time.Duration {
	return seconds(c.RetryIntervalSeconds, DefaultHealthRetryInterval)
}

// FreshMode returns the configured freshness mode or the default.
func (c HealthCheckConfig) FreshMode() string {
	if c.Fresh == nil || c.Fresh.Mode == "" {
		return FreshModeChanged
	}
	return c.Fresh.Mode
}

// Where the current fleet is read from. Either URL or Nova must be set.
type RegistryConfig struct {
	// Catalog endpoint returning a list of node records.
	URL string            `json:"url,omitempty" validate:"omitempty,url"`
	SSO libconf.SSOConfig `json:"sso,omitempty"`

	Nova *NovaRegistryConfig `json:"nova,omitempty" validate:"omitempty"`
}

// Reads the fleet from the OpenStack nova hypervisor list.
type NovaRegistryConfig struct {
	Keystone libconf.KeystoneConfig `json:"keystone"`
	// Endpoint availability in the service catalog, defaults to the keystone
	// availability and then to "public".
	Availability string `json:"availability,omitempty"`
	// Only count hypervisors of this type, e.g. "QEMU".
	HypervisorType string `json:"hypervisorType,omitempty"`
}

func (c NovaRegistryConfig) AvailabilityOrDefault() string {
	switch {
	case c.Availability != "":
		return c.Availability
	case c.Keystone.Availability != "":
		return c.Keystone.Availability
	default:
		return DefaultNovaAvailability
	}
}

type FreshConfig struct {
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=changed disjoint"`
}

type ProbeConfig struct {
	// Health URL template. {address}, {id} and {name} are replaced with the
	// fields of the probed host.
	URL string `json:"url" validate:"required"`
	// Text that must appear in the response body. Empty accepts any body.
	Marker         string `json:"marker,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" validate:"gte=0"`
}

func (c ProbeConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, DefaultProbeTimeout)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Load reads, merges and validates the configuration files.
func Load(confPath, secretsPath string) (*Config, error) {
	c, err := libconf.Load[Config](confPath, secretsPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "failed to load configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
