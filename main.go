package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"gopkg.in/ini.v1"
)

// startSIP binds the first free UDP port of the configured range and
// returns the server with the port it listens on.
func startSIP(cfg *Settings, host string) (gosip.Server, int, error) {
	coreLog.Info("starting SIP server")

	port := cfg.SIPPort()
	portRange := cfg.SIPPortRange()

	logger := gosiplog.NewLogrusLogger(sipLog, "SIP", nil)

	srv := gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: cfg.UserAgent()}, nil, nil, logger)

	var listenErr error
	for i := 0; i <= portRange; i++ {
		addr := fmt.Sprintf(":%d", port+i)
		listenErr = srv.Listen("udp", addr)
		if listenErr == nil {
			coreLog.Infof("SIP server listening on %s/udp", addr)
			return srv, port + i, nil
		}
		coreLog.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	srv.Shutdown()
	return nil, 0, fmt.Errorf("sip listen: %w", listenErr)
}

// startStatus serves the status API until ctx is canceled.
func startStatus(ctx context.Context, addr string, gw *Gateway) {
	if addr == "" {
		coreLog.Info("status API disabled")
		return
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           NewStatusServer(gw).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	go func() {
		coreLog.Infof("status API listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			coreLog.Errorf("status API: %v", err)
		}
	}()
}

func main() {
	configPath := flag.String("config", "mcpttd.ini", "path to the settings file")
	flag.Parse()

	cfg, err := ini.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		os.Exit(1)
	}

	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLogging()
	coreLog.Infof("settings loaded: node %s, role %s, %d calls", settings.UserID(), settings.Role(), len(settings.Calls()))

	if err := run(settings); err != nil {
		coreLog.Errorf("mcpttd: %v", err)
		closeLogging()
		os.Exit(1)
	}
	coreLog.Info("performing a graceful shutdown...")
}

func run(settings *Settings) error {
	host := settings.PublicAddress()
	if host == "" {
		ip, err := detectHostIP()
		if err != nil {
			return fmt.Errorf("public address: %w", err)
		}
		host = ip
		coreLog.Infof("using detected public address %s", host)
	}

	dir := NewDirectory()
	if err := dir.Set(settings.Members()); err != nil {
		return err
	}

	srv, port, err := startSIP(settings, host)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	gw := NewGateway(settings)
	codec := newSIPCodec(settings.UserID(), host, port, settings.FloorPort(), dir)
	tr := NewSIPTransport(srv, codec, sipLog, gw.Deliver)
	if err := gw.AttachSIP(srv, codec, tr); err != nil {
		return fmt.Errorf("register SIP handlers: %w", err)
	}
	if err := gw.SetupCalls(time.Now()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startStatus(ctx, settings.StatusAddress(), gw)
	coreLog.Info("starting gateway")
	return gw.Start(ctx)
}
