// Command blescan is a manual scanning tool. It lists the peripherals that
// advertise the BLE UART service.
//
// Usage:
//
//	go run ./cmd/blescan [-t 10s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
)

func main() {
	timeout := flag.Duration("t", 10*time.Second, "scan duration")
	flag.Parse()

	adapter := bleserial.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		log.Fatalf("Failed to enable Bluetooth adapter: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := adapter.Scan(ctx, bleserial.ServiceUUID); err != nil {
		log.Fatalf("Failed to start scan: %v", err)
	}
	fmt.Printf("Scanning for %s...\n", *timeout)
	<-ctx.Done()
	if err := adapter.StopScan(); err != nil {
		log.Printf("Stopping scan: %v", err)
	}

	devices, err := adapter.Discovered()
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		os.Exit(1)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(no name)"
		}
		fmt.Printf("%s  %4d dBm  %s\n", d.Address, d.RSSI, name)
	}
}
