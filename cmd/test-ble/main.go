package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/bluez"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/goble"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/tinygo"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

var (
	btAdapter = flag.String("btAdapter", "", "Optional ID of Bluetooth adapter to use (Linux only)")
	backend   = flag.String("backend", "tinygo", "BLE stack to test: tinygo or goble")
	testScan  = flag.Bool("testScan", false, "Also test BLE scan")
	allAdvs   = flag.Bool("all", false, "Print every advertisement, not just Tilt hydrometers")
)

func openAdapter() (ble.Adapter, []string, error) {
	switch *backend {
	case "tinygo":
		adapter, err := tinygo.NewAdapter(*btAdapter)
		if err != nil {
			if tinygo.IsAdapterError(err) {
				log.Error("%s", tinygo.AdapterErrorHelpMessage(err))
			}
			return nil, tinygo.RemediationSteps(), err
		}
		return adapter, nil, nil
	case "goble":
		adapter, err := goble.NewAdapter(*btAdapter)
		if err != nil {
			if goble.IsAdapterError(err) {
				log.Error("%s", goble.AdapterErrorHelpMessage(err))
			}
			return nil, goble.RemediationSteps(), err
		}
		return adapter, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend '%s'", *backend)
}

func printAdvertisement(adv ble.Advertisement) {
	for _, md := range adv.ManufacturerData {
		tilt, err := protocol.ParseTilt(md.CompanyID, md.Data)
		if err != nil {
			if *allAdvs {
				log.Info("%s rssi=%d name=%q company=%#04x data=%x", adv.Address, adv.RSSI, adv.LocalName, md.CompanyID, md.Data)
			}
			continue
		}
		log.Info("%s rssi=%d Tilt %s %.0f°F SG %.3f", adv.Address, adv.RSSI, tilt.Color, tilt.Temperature, tilt.Gravity)
	}
}

func main() {
	flag.Parse()
	log.SetLevel(log.LevelDebug)

	if runtime.GOOS == "linux" {
		if err := bluez.ProbeSystem(*btAdapter); err != nil {
			log.Error("BlueZ check failed: %s", err)
			for _, step := range bluez.RemediationSteps(err) {
				log.Error("  - %s", step)
			}
			return
		}
		log.Info("BlueZ adapter %s is powered", bluez.AdapterPath(*btAdapter))
	}

	if *btAdapter != "" {
		log.Info("Trying to use BLE adapter: %s", *btAdapter)
	} else {
		log.Info("Using first available BLE device")
	}
	adapter, steps, err := openAdapter()
	if err != nil {
		log.Error("Failed to initialize BLE device: %v", err)
		for _, step := range steps {
			log.Error("  - %s", step)
		}
		return
	}
	defer adapter.Close()

	log.Info("BLE adapter initialized (%s)", *backend)

	if !*testScan {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneChan := make(chan struct{})
	go func() {
		err := adapter.Scan(ctx, printAdvertisement)
		if err != nil && ctx.Err() == nil {
			log.Error("Scan failed: %v", err)
		}
		close(doneChan)
	}()
	log.Info("Scanning for BLE devices until interrupted")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	select {
	case <-signalChan:
	case <-doneChan:
		return
	}
	log.Info("Stopping scan")
	cancel()
	<-doneChan
}
