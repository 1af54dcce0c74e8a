package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"FlowSentry/internal/capture"
	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/pipeline"
	"FlowSentry/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	pcapFile := flag.String("pcap", "", "Replay a capture file instead of subscribing to NATS.")
	flag.Parse()

	log := logging.New()
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		log.Fatalw("failed to build pipeline", "err", err)
	}

	go metrics.Serve(cfg.MetricsAddr, log)
	p.Start()

	if *pcapFile == "" {
		*pcapFile = cfg.Capture.PcapFile
	}
	if *pcapFile != "" {
		runReplay(p, *pcapFile, log)
		return
	}

	sub, err := transport.NewSubscriber(cfg.NATS.URL, cfg.NATS.PacketSubject, log)
	if err != nil {
		log.Fatalw("failed to connect to nats", "err", err)
	}
	if err := sub.Start(p.HandlePacket); err != nil {
		log.Fatalw("failed to subscribe", "err", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, draining pipeline")
	sub.Close()
	p.Stop()
	log.Info("shutdown complete")
}

// runReplay pushes a recorded capture through the pipeline and exits once
// everything queued has been processed.
func runReplay(p *pipeline.Pipeline, path string, log *logging.Logger) {
	src, err := capture.OpenFile(path, log)
	if err != nil {
		log.Fatalw("failed to open capture file", "path", path, "err", err)
	}
	defer src.Close()

	log.Infow("replaying capture file", "path", path)
	src.Run(p.HandlePacket)
	p.Stop()
	log.Info("replay complete")
}
