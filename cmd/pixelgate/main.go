package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"pixelgate/internal/config"
	"pixelgate/internal/server"
)

func main() {
	var (
		configPath  string
		httpListen  string
		httpsListen string
		adminListen string
	)

	flag.StringVar(&configPath, "config", "configs/pixelgate.conf", "Path to gateway config (.yaml or nginx-style .conf)")
	flag.StringVar(&httpListen, "http", "", "Override HTTP listen address")
	flag.StringVar(&httpsListen, "https", "", "Override HTTPS listen address")
	flag.StringVar(&adminListen, "admin", "", "Override admin listen address")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := server.Run(cfg, server.Options{
		ConfigPath:  configPath,
		HTTPListen:  httpListen,
		HTTPSListen: httpsListen,
		AdminListen: adminListen,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
