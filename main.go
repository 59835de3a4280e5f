package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/internal/database"
	"github.com/customeros/mailflow/internal/repository"
	"github.com/customeros/mailflow/server"
)

func main() {
	app := &cli.App{
		Name:  "mailflow",
		Usage: "listens to customer mailboxes and triages incoming mail",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, cli.Exit("Config initialization failed: "+err.Error(), 1)
	}
	if cfg == nil {
		return nil, nil, cli.Exit("config is empty", 1)
	}

	mailflowDB, err := database.InitMailflowDatabase(cfg.MailflowDatabaseConfig)
	if err != nil {
		return nil, nil, cli.Exit("Mailflow database initialization failed: "+err.Error(), 1)
	}
	return cfg, mailflowDB, nil
}

func migrate(_ *cli.Context) error {
	cfg, mailflowDB, err := setup()
	if err != nil {
		return err
	}

	if err := repository.MigrateMailflowDB(cfg.MailflowDatabaseConfig, mailflowDB); err != nil {
		return cli.Exit("Database migration failed: "+err.Error(), 1)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func serve(_ *cli.Context) error {
	cfg, mailflowDB, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailflow starting up...")

	srv, err := server.NewServer(cfg, mailflowDB)
	if err != nil {
		return cli.Exit("Server setup failed: "+err.Error(), 1)
	}

	if err := srv.Run(); err != nil {
		return cli.Exit("Server startup failed: "+err.Error(), 1)
	}

	log.Println("Shutdown complete")
	return nil
}
