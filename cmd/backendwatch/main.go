package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/ssh"

	"github.com/abstractivemachines/backendwatch/internal/action"
	"github.com/abstractivemachines/backendwatch/internal/config"
	"github.com/abstractivemachines/backendwatch/internal/gateway"
	"github.com/abstractivemachines/backendwatch/internal/metrics"
	"github.com/abstractivemachines/backendwatch/internal/notify"
	"github.com/abstractivemachines/backendwatch/internal/prober"
	"github.com/abstractivemachines/backendwatch/internal/siterecord"
	"github.com/abstractivemachines/backendwatch/internal/supervisor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	configPath := envOr("BACKENDWATCH_CONFIG", "config.yml")
	port := envOr("BACKENDWATCH_PORT", "8090")
	playbookDir := envOr("BACKENDWATCH_PLAYBOOK_DIR", "./tasks_yaml")

	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	launcher := action.NewLauncher(playbookDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sites, err := buildSites(ctx, doc, logger)
	if err != nil {
		return fmt.Errorf("build sites: %w", err)
	}

	notifier := buildNotifier(doc.Notify, logger)
	for _, site := range sites {
		site.Notify = notifier
	}

	httpClient := &http.Client{}
	sup := supervisor.New(sites, prober.New(httpClient), launcher, doc.CheckInterval(), logger, m)

	go sup.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("backendwatch starting", "port", port, "sites", len(sites), "config", configPath)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func buildSites(ctx context.Context, doc config.Document, logger *slog.Logger) ([]*supervisor.Site, error) {
	sites := make([]*supervisor.Site, 0, len(doc.Sites))

	for _, sc := range doc.Sites {
		gw, err := buildGateway(ctx, sc, doc.Gateway, logger)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", sc.Name, err)
		}

		servers, err := resolveServers(ctx, sc, gw)
		if err != nil {
			return nil, fmt.Errorf("site %q: resolve servers: %w", sc.Name, err)
		}

		method := sc.Method
		if method == "" {
			method = http.MethodGet
		}
		path := sc.Path
		if path == "" {
			path = "/"
		}

		sites = append(sites, &supervisor.Site{
			Name:    sc.Name,
			Path:    path,
			Method:  method,
			Body:    sc.Body,
			Timeout: sc.Timeout(),
			Servers: servers,
			Record: siterecord.New(siterecord.Config{
				MaxFailed:    sc.EffectiveMaxFailed(),
				Duration:     sc.Window(),
				AutoInterval: sc.AutoInterval(),
				MaxInactive:  effectiveMaxInactive(sc, len(servers)),
			}),
			Gateway: gw,
			Recover: supervisor.Recover{
				Enabled: sc.Auto.Enable,
				Type:    sc.Auto.Type,
				Name:    sc.Auto.Name,
			},
		})
	}

	return sites, nil
}

func effectiveMaxInactive(sc config.SiteCfg, serverCount int) int {
	if sc.MaxInactive > 0 {
		return sc.MaxInactive
	}
	if serverCount == 0 {
		return 1
	}
	if n := serverCount / 2; n > 0 {
		return n
	}
	return 1
}

func buildGateway(ctx context.Context, sc config.SiteCfg, gc config.GatewayCfg, logger *slog.Logger) (gateway.Gateway, error) {
	switch sc.GatewayType {
	case "NGINX":
		cfg := gateway.NGINXConfig{
			Hosts:       gc.NGINX.Hosts,
			Username:    gc.NGINX.Username,
			AuthMethod:  nginxAuthMethod(gc.NGINX),
			DialTimeout: 10 * time.Second,
		}
		return gateway.NewNGINX(ctx, cfg, sc.ConfigFile, sc.BackendPort, logger)
	case "SLB":
		return gateway.NewSLB(sc.TargetGroupARN, logger)
	default:
		servers := make(map[string]struct{}, len(sc.Servers))
		for _, s := range sc.Servers {
			servers[s] = struct{}{}
		}
		return gateway.NewStatic(servers), nil
	}
}

func nginxAuthMethod(nc config.NGINXCfg) ssh.AuthMethod {
	if nc.PrivateKey != "" {
		key, err := os.ReadFile(nc.PrivateKey)
		if err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				return ssh.PublicKeys(signer)
			}
		}
	}
	return ssh.Password(nc.Password)
}

func resolveServers(ctx context.Context, sc config.SiteCfg, gw gateway.Gateway) (map[string]struct{}, error) {
	if len(sc.Servers) > 0 {
		servers := make(map[string]struct{}, len(sc.Servers))
		for _, s := range sc.Servers {
			servers[s] = struct{}{}
		}
		return servers, nil
	}
	return gw.GetServers(ctx)
}

func buildNotifier(channels []config.NotifyChannelCfg, logger *slog.Logger) notify.Notifier {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	chans := make([]notify.Channel, 0, len(channels))
	for _, c := range channels {
		switch c.Type {
		case "dingding":
			chans = append(chans, notify.NewDingTalk(c.RobotToken, httpClient))
		case "wechat":
			chans = append(chans, notify.NewWeChatWork(c.CorpID, c.Secret, c.Users, c.AgentID, httpClient))
		case "email":
			chans = append(chans, notify.NewEmail(c.SMTPHost, c.SMTPPort, c.Username, c.Password, c.Users))
		default:
			logger.Warn("ignoring unsupported notify channel type", "type", c.Type)
		}
	}

	if len(chans) == 0 {
		logger.Warn("no notification channels configured; status changes will not be delivered anywhere")
	}

	return notify.NewFanOut(chans, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
