// Package supervisor drives the per-site probing/decision loop: one tick
// per configured checkInterval, fanning probes out across every site and
// dispatching the actions each site's decision engine emits to the
// configured gateway, restart action, and notifier collaborators.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abstractivemachines/backendwatch/internal/gateway"
	"github.com/abstractivemachines/backendwatch/internal/metrics"
	"github.com/abstractivemachines/backendwatch/internal/notify"
	"github.com/abstractivemachines/backendwatch/internal/prober"
	"github.com/abstractivemachines/backendwatch/internal/siterecord"
	"github.com/abstractivemachines/backendwatch/internal/types"
)

// Recover describes the remediation an offline action should perform for a
// site: which restart action to launch, and the identifier (process name,
// IIS site name) it targets.
type Recover struct {
	Enabled bool
	Type    string // restart action name, e.g. "restart_process" | "restart_iis"
	Name    string
}

// ActionLauncher launches a fire-and-forget restart action against a host.
// Implementations must not block the Supervisor loop and must not write
// back to any SiteRecord.
type ActionLauncher interface {
	Launch(ctx context.Context, recoverType, name, host string)
}

// Site bundles everything the Supervisor needs to run one site's cycle.
type Site struct {
	Name    string
	Path    string
	Method  string
	Body    string
	Timeout time.Duration
	Servers map[string]struct{}

	Record  *siterecord.SiteRecord
	Gateway gateway.Gateway
	Recover Recover
	Notify  notify.Notifier
}

// Supervisor owns the long-running loop that drives one probing cycle per
// tick across all configured sites.
type Supervisor struct {
	sites         []*Site
	prober        *prober.Prober
	action        ActionLauncher
	checkInterval time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New creates a Supervisor over the given sites. metrics may be nil, in
// which case no instrumentation is recorded.
func New(sites []*Site, p *prober.Prober, action ActionLauncher, checkInterval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		sites:         sites,
		prober:        p,
		action:        action,
		checkInterval: checkInterval,
		logger:        logger,
		metrics:       m,
	}
}

// Run blocks, executing one cycle immediately and then one cycle per
// checkInterval, until ctx is cancelled. A graceful shutdown finishes the
// in-flight cycle before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("supervisor starting", "sites", len(s.sites), "check_interval", s.checkInterval)

	s.cycle(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one probing/decision pass over every configured site. Sites
// are processed one after another and share no state; a slow site delays
// the sites after it, and a failing site does not stop them.
func (s *Supervisor) cycle(ctx context.Context) {
	for _, site := range s.sites {
		s.cycleSite(ctx, site)
	}
}

func (s *Supervisor) cycleSite(ctx context.Context, site *Site) {
	if len(site.Servers) == 0 {
		s.logger.Warn("site has no servers configured", "site", site.Name)
		return
	}

	start := time.Now()
	results := s.prober.Probe(ctx, prober.Target{
		Hostname: site.Name,
		Path:     site.Path,
		Method:   site.Method,
		PostBody: site.Body,
		Timeout:  site.Timeout,
		Servers:  site.Servers,
	})
	s.recordProbes(site.Name, results, time.Since(start))

	site.Record.Update(results)
	actions := site.Record.Derive()

	if s.metrics != nil {
		s.metrics.SetInactive(site.Name, len(site.Record.Inactive()))
	}

	if len(actions) == 0 {
		return
	}

	errorHosts := site.Record.ErrorHosts()

	for _, act := range actions {
		if s.metrics != nil {
			s.metrics.ObserveAction(site.Name, act.Kind.String())
		}
		s.dispatch(ctx, site, act, errorHosts)
	}
}

func (s *Supervisor) recordProbes(site string, results []prober.Result, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	perProbe := elapsed.Seconds()
	if n := len(results); n > 0 {
		perProbe /= float64(n)
	}
	for _, r := range results {
		outcome := "healthy"
		if types.IsFailure(r.Status) {
			outcome = "unhealthy"
		}
		s.metrics.ObserveProbe(site, outcome, perProbe)
	}
}

func (s *Supervisor) dispatch(ctx context.Context, site *Site, act siterecord.Action, errorHosts map[string]struct{}) {
	switch act.Kind {
	case siterecord.Offline:
		s.dispatchOffline(ctx, site, act, errorHosts)
	case siterecord.Notify:
		s.sendNotify(ctx, site, fmt.Sprintf("%s Error Occur", act.Host), act, errorHosts)
	case siterecord.Online:
		s.dispatchOnline(ctx, site, act, errorHosts)
	}
}

func (s *Supervisor) dispatchOffline(ctx context.Context, site *Site, act siterecord.Action, errorHosts map[string]struct{}) {
	if site.Recover.Enabled {
		if err := site.Gateway.Offline(ctx, act.Host); err != nil {
			s.logger.Error("gateway offline failed", "site", site.Name, "host", act.Host, "error", err)
		}
		if s.action != nil {
			if s.metrics != nil {
				s.metrics.ObserveRestart(site.Name, site.Recover.Type)
			}
			go s.action.Launch(ctx, site.Recover.Type, site.Recover.Name, act.Host)
		}
		s.sendNotify(ctx, site, fmt.Sprintf("%s %s", act.Host, site.Recover.Type), act, errorHosts)
		return
	}

	s.sendNotify(ctx, site, fmt.Sprintf("%s error occur", act.Host), act, errorHosts)
}

func (s *Supervisor) dispatchOnline(ctx context.Context, site *Site, act siterecord.Action, errorHosts map[string]struct{}) {
	if site.Recover.Enabled {
		if err := site.Gateway.Online(ctx, act.Host); err != nil {
			s.logger.Error("gateway online failed", "site", site.Name, "host", act.Host, "error", err)
		}
	}
	s.sendNotify(ctx, site, fmt.Sprintf("%s Recover", act.Host), act, errorHosts)
}

func (s *Supervisor) sendNotify(ctx context.Context, site *Site, message string, act siterecord.Action, errorHosts map[string]struct{}) {
	if site.Notify == nil {
		return
	}
	text := fmt.Sprintf(
		"Time:\t%s\nSite:\t%s\nInfo:\t%s, latest status %d\nTotalError:\t%d",
		time.Now().Format("2006-01-02 15:04:05"), site.Name, message, act.LastStatus, len(errorHosts),
	)
	result := "sent"
	if err := site.Notify.SendAll(ctx, text); err != nil {
		s.logger.Error("notify failed", "site", site.Name, "host", act.Host, "error", err)
		result = "error"
	}
	if s.metrics != nil {
		s.metrics.ObserveNotify(site.Name, result)
	}
}
