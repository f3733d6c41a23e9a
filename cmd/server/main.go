// Command server is the thin CLI front end for the server role:
// server <port> <baud>
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"serialarq/link"
	"serialarq/session"
	"serialarq/statusserver"
	"serialarq/telemetry"
	"serialarq/transfer"
)

func main() {
	mqttHost := flag.String("mqtt-host", "", "MQTT broker host (optional telemetry)")
	mqttPort := flag.Int("mqtt-port", 1883, "MQTT broker port")
	mqttUser := flag.String("mqtt-user", "", "MQTT username")
	mqttPass := flag.String("mqtt-pass", "", "MQTT password")
	mqttTLS := flag.Bool("mqtt-tls", false, "Use TLS for the MQTT connection")
	mqttTopic := flag.String("mqtt-topic", "", "MQTT topic to publish transfer events to")
	statusAddr := flag.String("status-addr", "", "Optional HTTP status listen address, e.g. :8080")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: server <port> <baud>")
		os.Exit(1)
	}

	port := args[0]
	baud := mustAtoi(args[1], "baud")

	logFileName := fmt.Sprintf("serial_log_server_%s_%s.txt", sanitizePort(port), time.Now().Format("20060102_150405"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Error opening log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)

	logger.Printf("--- Server Mode (Protocol V%d) ---", 4)

	l, err := link.OpenSerial(port, baud)
	if err != nil {
		logger.Fatalf("Error: failed to open %s: %v", port, err)
	}
	defer l.Close()
	logger.Printf("Server waiting for a client on %s...", port)
	logger.Printf("Please start the client within 60 seconds.")

	var reporters transfer.MultiReporter
	reporters = append(reporters, transfer.LogReporter{Logger: logger})

	if *mqttHost != "" {
		cfg := telemetry.Config{Host: *mqttHost, Port: *mqttPort, User: *mqttUser, Pass: *mqttPass, TLS: *mqttTLS, Topic: *mqttTopic}
		if cfg.Enabled() {
			pub, err := telemetry.NewPublisher(cfg)
			if err != nil {
				logger.Printf("Warning: MQTT telemetry disabled: %v", err)
			} else {
				defer pub.Close()
				reporters = append(reporters, pub)
			}
		}
	}

	sess := &session.Session{
		Link:     l,
		Role:     session.Server,
		Reporter: reporters,
		Logger:   logger,
	}

	if *statusAddr != "" {
		srv := &statusserver.Server{Addr: *statusAddr, Snapshot: sess.Snapshot}
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Printf("status server error: %v", err)
			}
		}()
	}

	if err := sess.Run(); err != nil {
		logger.Printf("Error: session failed: %v", err)
		os.Exit(1)
	}

	local, remote := sess.Results()
	logger.Printf("=== Final Server Report ===")
	logger.Printf("Local: received=%d bytes=%d errors=%d retransmits=%d elapsed=%.3fs throughput=%.3fMiB/s cps=%.1f",
		local.ReceivedFrames, local.TotalReceivedBytes, local.Errors, local.Retransmits,
		local.ElapsedSeconds, local.ThroughputMiBps, local.CharsPerSecond)
	logger.Printf("Remote: received=%d bytes=%d errors=%d retransmits=%d",
		remote.ReceivedFrames, remote.TotalReceivedBytes, remote.Errors, remote.Retransmits)

	os.Exit(0)
}

func mustAtoi(s, name string) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid %s %q: %v\n", name, s, err)
		os.Exit(1)
	}
	return v
}

func sanitizePort(port string) string {
	out := make([]byte, 0, len(port))
	for i := 0; i < len(port); i++ {
		b := port[i]
		if b == '/' || b == '\\' || b == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, b)
	}
	return string(out)
}
