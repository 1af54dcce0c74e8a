package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"FlowSentry/internal/capture"
	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Interface to capture from (overrides the config).")
	flag.Parse()

	log := logging.New()
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if cfg.Capture.Interface == "" {
		log.Fatal("no capture interface configured; set capture.interface or pass -iface")
	}

	pub, err := transport.NewPublisher(cfg.NATS.URL, cfg.NATS.PacketSubject, log)
	if err != nil {
		log.Fatalw("failed to connect to nats", "err", err)
	}
	defer pub.Close()

	src, err := capture.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.BPF, log)
	if err != nil {
		log.Fatalw("failed to open capture interface", "iface", cfg.Capture.Interface, "err", err)
	}

	log.Infow("capture started", "iface", cfg.Capture.Interface)

	done := make(chan struct{})
	go func() {
		defer close(done)
		published := 0
		src.Run(func(info *model.PacketInfo) {
			if err := pub.Publish(info); err != nil {
				log.Warnw("failed to publish packet", "err", err)
				return
			}
			published++
			if published%10000 == 0 {
				log.Infow("publishing packets", "published", published)
			}
		})
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, closing capture")
	src.Close()
	<-done
}
