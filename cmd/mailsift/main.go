package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/dhorvath/mailsift/internal/config"
	"github.com/dhorvath/mailsift/internal/engine"
	"github.com/dhorvath/mailsift/internal/mailbox"
)

const watchTimeout = 5 * time.Minute

func main() {
	var (
		configPath = flag.String("config", "mailsift.yml", "path to the filter configuration file")
		domain     = flag.String("domain", "", "IMAP server (overrides config)")
		username   = flag.String("username", "", "IMAP username (overrides config)")
		password   = flag.String("password", "", "IMAP password (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
		nerf       = flag.Bool("nerf", false, "dry run: log actions without applying them")
		watch      = flag.Bool("watch", false, "keep running and re-filter on mailbox changes")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *configPath, *domain, *username, *password, *nerf, *watch); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, configPath, domain, username, password string, nerf, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if domain != "" {
		cfg.Domain = domain
	}
	if username != "" {
		cfg.Username = username
	}
	if password != "" {
		cfg.Password = password
	}
	if cfg.Domain == "" {
		return fmt.Errorf("no IMAP server configured; set imap-domain or pass -domain")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting", "server", cfg.Domain, "username", cfg.Username)
	mb, err := mailbox.Connect(cfg.Domain, true)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Domain, err)
	}
	defer func() { _ = mb.Logout() }()

	if err := login(ctx, mb, cfg); err != nil {
		return err
	}

	svc := engine.New(mb, cfg.MessageFilters, cfg.StateFilters, log)
	svc.Nerf = nerf
	if nerf {
		log.Info("nerf mode: no mailbox mutations will be applied")
	}

	if err := svc.Run(); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	log.Info("watching for mailbox changes")
	for {
		if err := mb.WaitForUpdate(ctx, watchTimeout); err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down")
				return nil
			}
			return fmt.Errorf("waiting for updates: %w", err)
		}
		if err := svc.Run(); err != nil {
			return err
		}
	}
}

// login prefers the XOAUTH2 flow when refresh-token credentials are
// configured, falling back to plain LOGIN.
func login(ctx context.Context, mb *mailbox.Client, cfg *config.Config) error {
	if cfg.OAuth2 != nil && cfg.OAuth2.RefreshToken != "" {
		token, err := accessToken(ctx, cfg.OAuth2)
		if err != nil {
			return fmt.Errorf("refreshing OAuth2 token: %w", err)
		}
		if err := mb.LoginXOAuth2(cfg.Username, token); err != nil {
			return fmt.Errorf("XOAUTH2 login failed: %w", err)
		}
		return nil
	}
	if err := mb.Login(cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

func accessToken(ctx context.Context, oc *config.OAuth2Config) (string, error) {
	conf := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: "https://oauth2.googleapis.com/token"},
	}
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: oc.RefreshToken}).Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
