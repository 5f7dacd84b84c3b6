package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/agent"
	"github.com/Joseda-hg/lazycrm/internal/auth"
	"github.com/Joseda-hg/lazycrm/internal/config"
	"github.com/Joseda-hg/lazycrm/internal/db"
	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/Joseda-hg/lazycrm/internal/realtime"
	"github.com/Joseda-hg/lazycrm/internal/store"
	"github.com/Joseda-hg/lazycrm/internal/tui"
	"github.com/Joseda-hg/lazycrm/internal/web"
)

func main() {
	configPathFlag := flag.String("config", "", "config file path")
	dbPathFlag := flag.String("db", "", "sqlite db path or postgres url")
	backendFlag := flag.String("backend", "", "database backend: sqlite or postgres")
	redisFlag := flag.String("redis", "", "redis url for realtime fan-out")
	webFlag := flag.Bool("web", false, "enable web server")
	webOnlyFlag := flag.Bool("web-only", false, "run web server only")
	portFlag := flag.Int("port", 0, "web server port")
	flag.Parse()

	cfgPath, err := resolveConfigPath(*configPathFlag)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if *redisFlag != "" {
		cfg.RedisURL = *redisFlag
	}
	if *webFlag || *webOnlyFlag {
		cfg.Web.Enabled = true
	}
	if *portFlag != 0 {
		cfg.Web.Port = *portFlag
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}

	if !*webOnlyFlag {
		// The terminal belongs to the TUI; logs go to a file next to the config.
		closeLog, err := redirectLog(filepath.Join(filepath.Dir(cfgPath), "lazycrm.log"))
		if err != nil {
			log.Fatal(err)
		}
		defer closeLog()
	}

	dialect, err := db.ParseDialect(cfg.Backend)
	if err != nil {
		log.Fatal(err)
	}
	dsn, err := resolveDSN(dialect, cfg, *dbPathFlag, cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	sqlDB, err := db.Open(dialect, dsn)
	if err != nil {
		log.Fatal(err)
	}

	bus, closeBus, err := openBroadcaster(cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	defer closeBus()
	gw := db.NewGateway(sqlDB, dialect, bus, nil)
	defer gw.Close()

	userID := cfg.UserID
	if cfg.Auth.AccessToken != "" {
		session, err := auth.ParseSession(cfg.Auth.AccessToken, cfg.Auth.JWTSecret)
		if err != nil {
			log.Fatalf("invalid access token: %v", err)
		}
		userID = session.UserID
	}

	leads := store.New(gw, store.Options{UserID: userID})
	if err := leads.Connect(); err != nil {
		log.Fatal(err)
	}
	defer leads.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := leads.Load(ctx); err != nil {
		log.Printf("[main] initial load: %v", err)
	}
	cancel()

	agentService := agent.NewService(gw, nil)
	knowledge, err := openKnowledgeBase(cfg)
	if err != nil {
		log.Printf("[main] knowledge base disabled: %v", err)
	}

	if cfg.Web.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Web.Port)
		handler := web.NewServer(web.Options{
			Store:       leads,
			Agent:       agentService,
			Knowledge:   knowledge,
			JWTSecret:   cfg.Auth.JWTSecret,
			CorsOrigins: cfg.Web.CorsOrigins,
		}).Handler()
		if *webOnlyFlag {
			log.Printf("Web server running at http://localhost%s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Printf("web server error: %v", err)
			}
			return
		}

		go func() {
			log.Printf("Web server running at http://localhost%s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Printf("web server error: %v", err)
			}
		}()
	}

	prefsPath, err := config.DefaultPrefsPath()
	if err != nil {
		log.Fatal(err)
	}
	prefs, err := config.LoadPrefs(prefsPath)
	if err != nil {
		log.Printf("[main] prefs: %v", err)
	}

	err = tui.Run(tui.Options{
		Store:     leads,
		Agent:     agentService,
		Knowledge: knowledge,
		Prefs:     prefs,
	})
	leads.Wait()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DefaultConfigPath()
}

func resolveDSN(dialect db.Dialect, cfg config.Settings, flagValue, cfgPath string) (string, error) {
	if dialect == db.Postgres {
		if flagValue != "" {
			return flagValue, nil
		}
		if cfg.DatabaseURL == "" {
			return "", fmt.Errorf("postgres backend needs database_url")
		}
		return cfg.DatabaseURL, nil
	}

	path := cfg.DBPath
	if flagValue != "" {
		path = flagValue
	}
	if path == "" {
		path = filepath.Join(filepath.Dir(cfgPath), "lazycrm.db")
	}
	if err := config.EnsureDir(path); err != nil {
		return "", err
	}
	return path, nil
}

// openBroadcaster returns the realtime bus and a func that releases it.
func openBroadcaster(redisURL string) (gateway.Broadcaster, func(), error) {
	if redisURL == "" {
		return gateway.NewHub(), func() {}, nil
	}
	bus, err := realtime.NewRedis(redisURL, nil)
	if err != nil {
		return nil, nil, err
	}
	return bus, func() {
		if err := bus.Close(); err != nil {
			log.Printf("[main] close redis: %v", err)
		}
	}, nil
}

func openKnowledgeBase(cfg config.Settings) (*agent.KnowledgeBase, error) {
	if cfg.Storage.Endpoint == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := agent.NewMinio(ctx, agent.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return agent.NewKnowledgeBase(client, cfg.Storage.Bucket, nil), nil
}

func redirectLog(path string) (func(), error) {
	if err := config.EnsureDir(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(file)
	return func() { _ = file.Close() }, nil
}
