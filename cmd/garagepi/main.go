// Command garagepi polls a BME280 and serves its readings over HTTP and
// WebSocket, recording them in SQLite.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"garagepi"

	log "github.com/sirupsen/logrus"
)

func main() {
	busName := flag.String("bus", "", "I²C bus name, empty for the first one")
	addr := flag.String("addr", "0x76", "I²C address of the sensor")
	listen := flag.String("listen", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "readings.db", "SQLite database path, empty to disable history")
	static := flag.String("static", "static", "directory served at /, empty to disable")
	interval := flag.Duration("interval", 2*time.Second, "time between readings")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	a, err := strconv.ParseUint(*addr, 0, 16)
	if err != nil {
		log.Fatalf("invalid address %q: %v", *addr, err)
	}

	dev, err := garagepi.Open(*busName, &garagepi.Opts{Address: uint16(a)})
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	if _, err := dev.ReadID(); err != nil {
		log.Fatal(err)
	}

	opts := garagepi.ServerOpts{Interval: *interval, StaticDir: *static}
	if *dbPath != "" {
		rec, err := garagepi.NewDataRecorder(*dbPath)
		if err != nil {
			log.Fatal(err)
		}
		defer rec.Close()
		opts.Recorder = rec
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := garagepi.NewServer(dev, opts)
	if err := server.Start(ctx, *listen); err != nil {
		log.Error(err)
	}
}
