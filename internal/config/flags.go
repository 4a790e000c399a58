// Package config defines the CLI surface for cmd/registryd, mirroring the
// teacher's registry/config/flags.go: one constant per flag name, one
// urfave/cli/v2 flag per constant, REG_-prefixed environment variable
// fallback for each.
package config

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// Flag names.
const (
	LogLevelFlag  = "log_level"
	LogFormatFlag = "log_format"

	APIPortFlag         = "api_port"
	TransportPortFlag   = "transport_port"

	MemberIDFlag = "member_id"
	MemberIPFlag = "member_ip"

	ConsistencyFlag     = "consistency"
	EtcdEndpointsFlag   = "etcd_endpoints"
	MembershipTTLFlag   = "membership_ttl"

	IDModeFlag = "instance_id_mode"

	HeartbeatIntervalFlag = "heartbeat_interval"
	HeartbeatTimeoutFlag  = "heartbeat_timeout"
	IPDeleteTimeoutFlag   = "ip_delete_timeout"

	ReportPeriodFlag  = "report_period"
	QueueCapacityFlag = "queue_capacity"

	ReaperEnabledFlag      = "reaper_enabled"
	ReaperInitialDelayFlag = "reaper_initial_delay"
	ReaperPeriodFlag       = "reaper_period"
	MaxFinalizeCountFlag   = "max_finalize_count"
)

// Flags is the full set of flags cmd/registryd registers on its cli.App.
var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    LogLevelFlag,
		EnvVars: envVars(LogLevelFlag),
		Value:   "info",
		Usage:   "Logging level. Supported values are: 'debug', 'info', 'warn', 'error', 'fatal', 'panic'",
	},
	&cli.StringFlag{
		Name:    LogFormatFlag,
		EnvVars: envVars(LogFormatFlag),
		Value:   "text",
		Usage:   "Logging format. Supported values are: 'text', 'json'",
	},
	&cli.IntFlag{
		Name:    APIPortFlag,
		EnvVars: envVars(APIPortFlag),
		Value:   8848,
		Usage:   "Health-endpoint listener port number",
	},
	&cli.IntFlag{
		Name:    TransportPortFlag,
		EnvVars: envVars(TransportPortFlag),
		Value:   9848,
		Usage:   "Peer anti-entropy transport port number",
	},
	&cli.StringFlag{
		Name:    MemberIDFlag,
		EnvVars: envVars(MemberIDFlag),
		Usage:   "This peer's member id (defaults to a generated uuid)",
	},
	&cli.StringFlag{
		Name:    MemberIPFlag,
		EnvVars: envVars(MemberIPFlag),
		Value:   "127.0.0.1",
		Usage:   "This peer's advertised IP address",
	},
	&cli.StringFlag{
		Name:    ConsistencyFlag,
		EnvVars: envVars(ConsistencyFlag),
		Value:   "mem",
		Usage:   "Consistency backend. Supported values are: 'mem', 'etcd'",
	},
	&cli.StringSliceFlag{
		Name:    EtcdEndpointsFlag,
		EnvVars: envVars(EtcdEndpointsFlag),
		Usage:   "etcd endpoints, required when consistency=etcd",
	},
	&cli.DurationFlag{
		Name:    MembershipTTLFlag,
		EnvVars: envVars(MembershipTTLFlag),
		Value:   10 * time.Second,
		Usage:   "etcd membership lease TTL, only used when consistency=etcd",
	},
	&cli.StringFlag{
		Name:    IDModeFlag,
		EnvVars: envVars(IDModeFlag),
		Value:   "composite",
		Usage:   "Instance id minting mode. Supported values are: 'composite', 'snowflake'",
	},
	&cli.DurationFlag{
		Name:    HeartbeatIntervalFlag,
		EnvVars: envVars(HeartbeatIntervalFlag),
		Value:   5 * time.Second,
		Usage:   "Ephemeral heartbeat-timeout sweep interval",
	},
	&cli.DurationFlag{
		Name:    HeartbeatTimeoutFlag,
		EnvVars: envVars(HeartbeatTimeoutFlag),
		Value:   15 * time.Second,
		Usage:   "Ephemeral instance heartbeat timeout",
	},
	&cli.DurationFlag{
		Name:    IPDeleteTimeoutFlag,
		EnvVars: envVars(IPDeleteTimeoutFlag),
		Value:   30 * time.Second,
		Usage:   "How long an ephemeral instance may go without a heartbeat before it is removed",
	},
	&cli.DurationFlag{
		Name:    ReportPeriodFlag,
		EnvVars: envVars(ReportPeriodFlag),
		Value:   60 * time.Second,
		Usage:   "Anti-entropy checksum-broadcast period",
	},
	&cli.IntFlag{
		Name:    QueueCapacityFlag,
		EnvVars: envVars(QueueCapacityFlag),
		Value:   1 << 20,
		Usage:   "Anti-entropy pull-queue bounded capacity",
	},
	&cli.BoolFlag{
		Name:    ReaperEnabledFlag,
		EnvVars: envVars(ReaperEnabledFlag),
		Usage:   "Enable the empty-service reaper",
	},
	&cli.DurationFlag{
		Name:    ReaperInitialDelayFlag,
		EnvVars: envVars(ReaperInitialDelayFlag),
		Value:   60 * time.Second,
		Usage:   "Empty-service reaper initial delay",
	},
	&cli.DurationFlag{
		Name:    ReaperPeriodFlag,
		EnvVars: envVars(ReaperPeriodFlag),
		Value:   20 * time.Second,
		Usage:   "Empty-service reaper sweep period",
	},
	&cli.IntFlag{
		Name:    MaxFinalizeCountFlag,
		EnvVars: envVars(MaxFinalizeCountFlag),
		Value:   3,
		Usage:   "Count of consecutive empty sweeps a service must exceed before the reaper deletes it",
	},
}

func envVars(name string) []string {
	return []string{"REG_" + strings.ToUpper(name)}
}
