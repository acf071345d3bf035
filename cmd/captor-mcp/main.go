// captor-mcp is a standalone MCP server over the captor database. It
// serves read-only account, article, and job tools over JSON-RPC stdio
// so an assistant can browse captures without touching the capture
// pipeline itself.
package main

import (
	"flag"
	"log"

	captor "github.com/jordanhart/captor"
)

func main() {
	dbPath := flag.String("db", "./captor.db", "path to captor database")
	flag.Parse()

	engine, err := captor.NewEngine(captor.EngineConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("create captor engine: %v", err)
	}
	defer engine.Close()

	srv := newServer(engine)
	if err := srv.run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
