package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	internal_http "github.com/clahage/my-clever-crm-sub002/internal/http"
	"github.com/clahage/my-clever-crm-sub002/internal/log"
	internal_storage "github.com/clahage/my-clever-crm-sub002/internal/storage"
	"github.com/clahage/my-clever-crm-sub002/pkg/bandit"
	"github.com/clahage/my-clever-crm-sub002/pkg/catalog"
	"github.com/clahage/my-clever-crm-sub002/pkg/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the drip engine daemon (scheduler + webhook/admin server)",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file loaded: %v", err)
		}

		dbConnStr, err := cmd.Flags().GetString("db")
		if err != nil || dbConnStr == "" {
			log.GetLogger().Errorf("Database connection string required (--db or DATABASE_URL)")
			os.Exit(1)
		}
		store, err := internal_storage.InitStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		cat, err := catalog.Builtin()
		if err != nil {
			log.GetLogger().Errorf("Failed to load catalog: %v", err)
			os.Exit(1)
		}

		// Concrete render/send/contact-store bindings are deployment
		// specific; this binary wires the built-in logging stand-ins.
		// Replace them here when integrating the real collaborators.
		collab := service.Collaborators{
			Contacts: newEnvContactStore(),
			Renderer: &loggingRenderer{},
			Sender:   &loggingSender{},
			Tracker:  &noopTracker{},
		}

		allocator := bandit.New(store, log.GetLogger())
		svc := service.NewWorkflowService(store, cat, collab, allocator, log.GetLogger())
		proc := service.NewEventProcessor(store, collab.Contacts, allocator, svc, log.GetLogger())

		interval := service.DefaultInterval
		if raw := os.Getenv("SCHEDULER_INTERVAL"); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				interval = d
			} else {
				log.GetLogger().Errorf("Invalid SCHEDULER_INTERVAL %q: %v", raw, err)
			}
		}
		scheduler := service.NewScheduler(svc, store, log.GetLogger(), service.WithInterval(interval))
		go func() {
			if err := scheduler.Run(context.Background()); err != nil {
				log.GetLogger().Errorf("Scheduler exited: %v", err)
			}
		}()

		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		if err := internal_http.StartServer(port, svc, proc); err != nil {
			log.GetLogger().Errorf("Server exited: %v", err)
			os.Exit(1)
		}
	},
}
