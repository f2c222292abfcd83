// Command ipfixflow captures packets, correlates them into flows, and
// hands completed flows to exporter.Debug, which prints them as text to
// stderr (no IPFIX wire encoding) — the entry point wiring every
// component built under internal/, adapted from the teacher's
// cmd/collector/main.go component-wiring shape (flag parsing,
// construct-start-run-stop, final stats print) to this system's
// capture -> parser -> cache -> exporter pipeline.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ipfixflow/internal/api"
	"ipfixflow/internal/archive"
	"ipfixflow/internal/cache"
	"ipfixflow/internal/capture"
	"ipfixflow/internal/config"
	"ipfixflow/internal/exporter"
	"ipfixflow/internal/logging"
	"ipfixflow/internal/monitor"
	"ipfixflow/internal/parser"
	"ipfixflow/internal/plugin"
	"ipfixflow/internal/plugin/http"
	"ipfixflow/internal/plugin/quic"
	"ipfixflow/internal/plugin/rtsp"
	"ipfixflow/internal/plugin/smtp"
	"ipfixflow/internal/plugin/ssdp"
	"ipfixflow/internal/plugin/tls"
)

func main() {
	fs := flag.NewFlagSet("ipfixflow", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipfixflow: config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	var src capture.Source
	if cfg.CaptureFile != "" {
		f, err := os.Open(cfg.CaptureFile)
		if err != nil {
			log.Fatal().Err(err).Msg("opening capture file")
		}
		defer f.Close()
		src = capture.NewFileSource(f, 1024)
	} else {
		log.Warn().Msg("no -interface pcap binding wired in this build; pass -capture-file to replay a frame-record file")
		src = capture.NewChannelSource(1024)
	}

	exp := exporter.NewDebug(os.Stderr)
	if err := exp.Prepare(); err != nil {
		log.Fatal().Err(err).Msg("preparing exporter")
	}
	if err := exp.Init(cfg.ObservationDomainID, cfg.ExporterHost, cfg.ExporterPort, cfg.ExporterUDP, false, 0, true); err != nil {
		log.Fatal().Err(err).Msg("initializing exporter")
	}

	plugins := buildPlugins(cfg.Plugins)

	flowCache, err := cache.New(cache.Config{
		CacheSize:       cfg.CacheSize(),
		LineSize:        cfg.LineSize,
		ActiveTimeout:   time.Duration(cfg.ActiveTimeoutSec) * time.Second,
		InactiveTimeout: time.Duration(cfg.InactiveTimeoutSec) * time.Second,
		Logger:          &log,
	}, exp, plugins)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing flow cache")
	}

	arc := archive.New(10000)
	flowCache.SetArchive(arc)

	apiServer := api.NewServer(cfg.APIAddr, flowCache, arc)
	if err := apiServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting api server")
	}

	p := parser.New(parser.DefaultConfig())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ingestDone := make(chan struct{})

	go func() {
		defer close(ingestDone)
		for pkt := range src.Packets() {
			res, err := p.Parse(pkt.Data)
			if err != nil {
				log.Debug().Err(err).Msg("packet parse error")
				continue
			}
			if err := flowCache.AddPacket(res.Headers, pkt.Timestamp, 0, pkt.Data); err != nil {
				log.Error().Err(err).Msg("cache add_packet error")
			}
		}
	}()

	if cfg.UI == "cli" {
		m := monitor.NewSimple(flowCache, arc, time.Second)
		go m.Start()
		<-sigCh
		m.Stop()
	} else {
		m := monitor.NewTUI(flowCache, arc, 500*time.Millisecond)
		go func() {
			<-sigCh
			m.Stop()
		}()
		if err := m.Run(); err != nil {
			log.Error().Err(err).Msg("monitor exited with error")
		}
	}

	src.Close()
	<-ingestDone

	if err := flowCache.Clear(); err != nil {
		log.Error().Err(err).Msg("errors during shutdown export/teardown")
	}
	if err := apiServer.Stop(); err != nil {
		log.Error().Err(err).Msg("stopping api server")
	}
	if err := exp.Shutdown(); err != nil {
		log.Error().Err(err).Msg("shutting down exporter")
	}

	fmt.Printf("ipfixflow: exported %d flows (%d evictions)\n", flowCache.ExportCount(), flowCache.EvictionCount())
}

func buildPlugins(names string) []plugin.Plugin {
	var plugins []plugin.Plugin
	for _, name := range splitCSV(names) {
		switch name {
		case "http":
			plugins = append(plugins, http.New())
		case "smtp":
			plugins = append(plugins, smtp.New())
		case "quic":
			plugins = append(plugins, quic.New())
		case "rtsp":
			plugins = append(plugins, rtsp.New())
		case "ssdp":
			plugins = append(plugins, ssdp.New())
		case "tls":
			plugins = append(plugins, tls.New())
		}
	}
	return plugins
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
