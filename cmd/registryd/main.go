// Command registryd runs one peer of the service registry core: the
// namespaced Registry table, its anti-entropy and empty-service-reaper
// background workers, and the HTTP transport peers use to exchange
// checksums and pull snapshots. Grounded on the teacher's cmd/registry/main.go
// wiring shape (parse flags, configure logging, construct collaborators,
// start the server).
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/distroreg/registry/antientropy"
	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/consistency"
	"github.com/distroreg/registry/distro"
	"github.com/distroreg/registry/healthscheduler"
	"github.com/distroreg/registry/internal/config"
	"github.com/distroreg/registry/membership"
	"github.com/distroreg/registry/pkg/health"
	"github.com/distroreg/registry/pkg/logging"
	"github.com/distroreg/registry/pkg/metrics"
	"github.com/distroreg/registry/push"
	"github.com/distroreg/registry/reaper"
	"github.com/distroreg/registry/registry"
	"github.com/distroreg/registry/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "registryd"
	app.Usage = "Service registry core peer"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("failure running registryd: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	conf := config.NewValuesFromContext(c)

	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	formatter, err := logging.GetLogFormatter(conf.LogFormat)
	if err != nil {
		return err
	}
	logrus.SetFormatter(formatter)

	logger := logging.GetLogger("MAIN")

	memberID := conf.MemberID
	if memberID == "" {
		memberID = uuid.New()
	}
	self := membership.Member{
		MemberID:   membership.MemberID(memberID),
		MemberIP:   conf.MemberIP,
		MemberPort: conf.TransportPort,
		Timestamp:  time.Now(),
	}

	var backend membership.Backend
	var cons consistency.Consistency
	switch conf.Consistency {
	case "etcd":
		if len(conf.EtcdEndpoints) == 0 {
			return fmt.Errorf("etcd consistency requires %s", config.EtcdEndpointsFlag)
		}
		backend, err = membership.NewEtcdBackend(conf.EtcdEndpoints, int64(conf.MembershipTTL.Seconds()))
		if err != nil {
			return err
		}
		cons, err = consistency.NewEtcdConsistency(conf.EtcdEndpoints)
		if err != nil {
			return err
		}
	case "mem":
		backend = membership.NewMemoryBackend()
		cons = consistency.NewMemConsistency()
	default:
		return fmt.Errorf("unrecognized consistency backend %q", conf.Consistency)
	}

	if checker, ok := cons.(health.Checker); ok {
		health.Register("consistency", checker)
	}
	if checker, ok := backend.(health.Checker); ok {
		health.Register("membership", checker)
	}

	memberSvc := membership.NewService(membership.ServiceConfig{
		Self:            self,
		Backend:         backend,
		HeartbeatPeriod: conf.MembershipTTL / 2,
	})
	if err := memberSvc.Join(); err != nil {
		return fmt.Errorf("failed to join cluster membership: %s", err)
	}
	defer memberSvc.Leave()

	idMode := catalog.CompositeIDMode
	if conf.IDMode == "snowflake" {
		idMode = catalog.SnowflakeIDMode
	}

	broadcaster := push.NewBroadcaster()
	healthSched := healthscheduler.NewScheduler(conf.HeartbeatInterval, conf.HeartbeatTimeout)

	reg := registry.New(registry.Config{
		Consistency:     cons,
		Push:            broadcaster,
		HealthScheduler: healthSched,
		InstanceIDMode:  idMode,
		IPDeleteTimeout: conf.IPDeleteTimeout,
	})

	router := distro.NewRouter(self.MemberID, memberSvc, 64)
	synchronizer := transport.NewHTTPSynchronizer(self.MemberID)

	ae := antientropy.New(antientropy.Config{
		Self:          self.MemberID,
		Membership:    memberSvc,
		Registry:      reg,
		Router:        router,
		Synchronizer:  synchronizer,
		ReportPeriod:  conf.ReportPeriod,
		QueueCapacity: conf.QueueCapacity,
	})
	ae.Start()
	defer ae.Stop()
	health.Register("antientropy", ae)
	defer health.Unregister("antientropy")

	handler := transport.NewHandler(reg, ae.ReceiveChecksums)
	mux := http.NewServeMux()
	handler.Register(mux)

	apiMux := http.NewServeMux()
	apiMux.Handle("/health", health.Handler())
	apiAddr := ":" + strconv.Itoa(conf.APIPort)
	go func() {
		logger.Infof("serving /health on %s", apiAddr)
		if err := http.ListenAndServe(apiAddr, apiMux); err != nil {
			logger.WithError(err).Error("health endpoint listener stopped")
		}
	}()

	if conf.ReaperEnabled {
		r := reaper.New(reaper.Config{
			Registry:         reg,
			Router:           router,
			InitialDelay:     conf.ReaperInitialDelay,
			Period:           conf.ReaperPeriod,
			MaxFinalizeCount: conf.MaxFinalizeCount,
		})
		r.Start()
		defer r.Stop()
	}

	go metrics.DumpPeriodically(30 * time.Second)

	addr := ":" + strconv.Itoa(conf.TransportPort)
	logger.Infof("member %s listening for peer transport on %s", self.MemberID, addr)
	return http.ListenAndServe(addr, mux)
}
