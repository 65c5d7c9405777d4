package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/inconshreveable/log15"

	swing "github.com/iqe/swingsense/internal"
)

var (
	version = "undefined" // updated during release build
)

func main() {
	detectorURL := flag.String("ws", "ws://localhost:9000", "Websocket URL of the remote detector")
	apiAddr := flag.String("l", "0.0.0.0:8080", "Host:port for HTTP API")
	mqttHost := flag.String("mqtt", "", "MQTT broker host, empty to disable")
	mqttPort := flag.Int("mqtt-port", 1883, "MQTT broker port")
	mqttTopic := flag.String("mqtt-topic", "swingsense/swing", "MQTT topic for output records")
	natsURL := flag.String("nats", "", "NATS url, empty to disable")
	natsSubject := flag.String("nats-subject", "swing.output", "NATS subject for output records")
	valueWindow := flag.Int("value-window", swing.DefaultWindows.Value, "Samples in the value smoothing window")
	speedWindow := flag.Int("speed-window", swing.DefaultWindows.Speed, "Samples in the speed smoothing window")
	verbose := flag.Bool("v", false, "Print more verbose messages")
	versionFlag := flag.Bool("V", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("swingsense - version %s\n", version)
		os.Exit(0)
	}

	logLevel := log.LvlInfo
	if *verbose {
		logLevel = log.LvlDebug
	}
	log.Root().SetHandler(log.LvlFilterHandler(logLevel, log.StdoutHandler))

	var sinks []swing.Sink
	if *mqttHost != "" {
		mqttSink, err := swing.NewMqttSink(swing.MqttConfig{Host: *mqttHost, Port: *mqttPort, Topic: *mqttTopic})
		if err != nil {
			log.Error("Error while connecting to MQTT", "error", err)
			os.Exit(1)
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink.Send)
	}
	if *natsURL != "" {
		natsSink, err := swing.NewNatsSink(*natsURL, *natsSubject)
		if err != nil {
			log.Error("Error while connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink.Send)
	}

	windows := swing.Windows{Value: *valueWindow, Speed: *speedWindow}
	station, err := swing.NewStation(swing.DefaultConfig(), windows, swing.Sinks(sinks...))
	if err != nil {
		log.Error("Invalid detector config", "error", err)
		os.Exit(1)
	}

	link, err := swing.DialDetector(*detectorURL, station)
	if err != nil {
		log.Error("Error while connecting to detector", "error", err)
		os.Exit(1)
	}
	defer link.Close()
	station.SetPusher(link)

	go station.Run()
	defer station.Stop()

	go func() {
		err := link.Run()
		if err != nil {
			log.Error("Lost connection to detector", "error", err)
			os.Exit(1)
		}
		log.Info("Detector connection closed")
	}()

	go func() {
		cameras := func() ([]swing.Camera, error) { return swing.ListCameras(swing.DefaultCameraPattern) }
		err := swing.RunApi(*apiAddr, *verbose, station, cameras)
		if err != nil {
			log.Error("Error while running API", "error", err)
			os.Exit(1)
		}
	}()

	sig := waitForSignal(os.Interrupt, syscall.SIGTERM)
	log.Info("Shutting down", "signal", sig)
}

// waitForSignal blocks until one of sigs arrives and returns it.
func waitForSignal(sigs ...os.Signal) os.Signal {
	received := make(chan os.Signal, 1)
	signal.Notify(received, sigs...)
	defer signal.Stop(received)
	return <-received
}
