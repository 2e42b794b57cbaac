package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rfid-bridge/config"
	"rfid-bridge/internal/bridge"
	"rfid-bridge/internal/model"
	"rfid-bridge/internal/serial"
	"rfid-bridge/pkg/logger"
)

func main() {
	mode := flag.String("mode", config.ModeProduction, "mode of the application (production|development)")
	configPath := flag.String("config", "", "JSON config file (default: user config directory)")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*mode)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if _, err := cfg.ReadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := logger.INFO
	if cfg.IsDevelopment() {
		level = logger.DEBUG
	}
	if err := logger.Init(level, cfg.Log.Dir); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	l := logger.GetDefaultLogger()

	if *listPorts {
		err := printPorts()
		l.Close()
		if err != nil {
			log.Fatal(err)
		}
		return
	}

	switch {
	case *configPath != "":
		logger.Debug("config file: %s", *configPath)
	case cfg.IsConfigExist():
		logger.Debug("config file: %s", cfg.GetDefaultConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bm := bridge.NewBridgeManager(cfg, l)
	err = bm.Run(ctx)
	stop()
	l.Close()

	if model.KindOf(err) == model.ConnectionError {
		os.Exit(1)
	}
}

func printPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tUSB VID=%s PID=%s serial=%s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Printf("%s\n", p.Name)
		}
	}
	return nil
}
