package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kasia-im/kasiad/internal/blockchain"
	"github.com/kasia-im/kasiad/internal/config"
	"github.com/kasia-im/kasiad/internal/http_api"
	"github.com/kasia-im/kasiad/internal/kasiad"
	"github.com/kasia-im/kasiad/internal/notificator"
	"github.com/kasia-im/kasiad/internal/repository"
	"github.com/kasia-im/kasiad/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "kasiad",
		Usage: "Kasiad is a pseudonymous messaging handshake daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "node-url", Aliases: []string{"n"}, Usage: "Kaspad node websocket URL"},
			&cli.StringFlag{Name: "wallet-address", Aliases: []string{"w"}, Usage: "Tenant wallet address"},
			&cli.IntFlag{Name: "api-port", Aliases: []string{"a"}, Usage: "HTTP API port"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("node-url") {
		cfg.NodeURL = c.String("node-url")
	}
	if c.IsSet("wallet-address") {
		cfg.WalletAddress = c.String("wallet-address")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	db, err := repository.Open(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer repository.Close(db)

	// Initialize node listener
	source := blockchain.NewKaspad(cfg.NodeURL, cfg.WalletAddress, log)

	// Initialize notificator
	var telegram *notificator.TelegramNotificator
	if cfg.TelegramBotToken != "" {
		telegram, err = notificator.NewTelegramNotificator(log, cfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notificator: %v", err)
		}
	}
	var email *notificator.EmailNotificator
	if cfg.NotifyEmail != "" {
		email = notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender)
	}
	notifier := notificator.NewNotificator(log, telegram, cfg.TelegramChatID, email, cfg.NotifyEmail)

	// Create the tenant session
	app, err := kasiad.New(cfg, db, source, notifier, log)
	if err != nil {
		return fmt.Errorf("failed to initialize kasiad: %v", err)
	}

	apiServer := http_api.NewHTTPServer(app.Manager(), cfg.APIPort, log)

	go apiServer.Start()
	// Start the application
	app.Start()

	return nil
}
