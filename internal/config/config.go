package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Values holds the resolved configuration for a single registryd process,
// built from a cli.Context per the teacher's NewValuesFromContext idiom.
type Values struct {
	LogLevel  string
	LogFormat string

	APIPort       int
	TransportPort int

	MemberID string
	MemberIP string

	Consistency   string
	EtcdEndpoints []string
	MembershipTTL time.Duration

	IDMode string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	IPDeleteTimeout   time.Duration

	ReportPeriod  time.Duration
	QueueCapacity int

	ReaperEnabled      bool
	ReaperInitialDelay time.Duration
	ReaperPeriod       time.Duration
	MaxFinalizeCount   int
}

// NewValuesFromContext builds Values from a parsed CLI context.
func NewValuesFromContext(c *cli.Context) *Values {
	return &Values{
		LogLevel:  c.String(LogLevelFlag),
		LogFormat: c.String(LogFormatFlag),

		APIPort:       c.Int(APIPortFlag),
		TransportPort: c.Int(TransportPortFlag),

		MemberID: c.String(MemberIDFlag),
		MemberIP: c.String(MemberIPFlag),

		Consistency:   c.String(ConsistencyFlag),
		EtcdEndpoints: c.StringSlice(EtcdEndpointsFlag),
		MembershipTTL: c.Duration(MembershipTTLFlag),

		IDMode: c.String(IDModeFlag),

		HeartbeatInterval: c.Duration(HeartbeatIntervalFlag),
		HeartbeatTimeout:  c.Duration(HeartbeatTimeoutFlag),
		IPDeleteTimeout:   c.Duration(IPDeleteTimeoutFlag),

		ReportPeriod:  c.Duration(ReportPeriodFlag),
		QueueCapacity: c.Int(QueueCapacityFlag),

		ReaperEnabled:      c.Bool(ReaperEnabledFlag),
		ReaperInitialDelay: c.Duration(ReaperInitialDelayFlag),
		ReaperPeriod:       c.Duration(ReaperPeriodFlag),
		MaxFinalizeCount:   c.Int(MaxFinalizeCountFlag),
	}
}
