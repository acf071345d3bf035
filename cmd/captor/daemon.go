package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the auto-sync scheduler until terminated",
		Long: `Keep the process alive with the auto-sync scheduler ticking, creating
scheduled capture jobs for enrolled accounts. Designed for running inside
a container or as a background service. Handles SIGINT/SIGTERM for
graceful shutdown (the in-flight job finishes first).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			engine.StartScheduler()
			log.Printf("captor daemon: scheduler running (tick %ds)", cfg.AutoSync.TickSeconds)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			log.Println("captor daemon: received shutdown signal, waiting for in-flight job")
			engine.Wait()
			return nil
		},
	}
}
