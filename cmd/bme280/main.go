// Command bme280 prints BME280 readings as CSV.
package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"garagepi"

	log "github.com/sirupsen/logrus"
)

func main() {
	busName := flag.String("bus", "", "I²C bus name, empty for the first one")
	addr := flag.String("addr", "0x76", "I²C address of the sensor")
	over := flag.String("oversample", "2x", "oversampling for temperature, pressure and humidity")
	interval := flag.Duration("interval", 2*time.Second, "time between readings")
	count := flag.Int("count", 0, "number of readings, 0 to run forever")
	level := flag.String("log-level", "warning", "log level")
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	a, err := strconv.ParseUint(*addr, 0, 16)
	if err != nil {
		log.Fatalf("invalid address %q: %v", *addr, err)
	}
	o, err := garagepi.ParseOversampling(*over)
	if err != nil {
		log.Fatal(err)
	}

	dev, err := garagepi.Open(*busName, &garagepi.Opts{
		Address:     uint16(a),
		Temperature: o,
		Pressure:    o,
		Humidity:    o,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	id, err := dev.ReadID()
	if err != nil {
		log.Fatal(err)
	}
	if !id.IsBME280() {
		log.Warnf("unexpected chip id %#x, continuing anyway", id.ChipID)
	}

	w := garagepi.NewCSVWriter(os.Stdout)
	defer w.Close()
	if err := w.WriteHeader(); err != nil {
		log.Fatal(err)
	}

	for n := 0; *count == 0 || n < *count; n++ {
		if n > 0 {
			time.Sleep(*interval)
		}
		wait, err := dev.Trigger()
		if err != nil {
			log.Printf("Error triggering BME280: %v", err)
			continue
		}
		time.Sleep(wait)
		r, err := dev.Collect()
		if err != nil {
			log.Printf("Error reading BME280: %v", err)
			continue
		}
		if err := w.WriteReading(time.Now(), r); err != nil {
			log.Fatal(err)
		}
	}
}
