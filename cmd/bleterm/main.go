// Command bleterm is a terminal for RTL8762C BLE UART bridges. Lines typed on
// stdin are sent to the device and received data is printed. With -mqtt the
// link is exposed on an MQTT broker instead.
//
// Usage:
//
//	go run ./cmd/bleterm -u AA:BB:CC:DD:EE:FF [-b 115200] [-x] [-json] [-mqtt]
//
// Type "blequit" to exit.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bridge"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/config"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/logging"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/term"
)

const quitCommand = "blequit"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/bleuart/config.yaml)")
	address := flag.String("u", "", "device address, e.g. AA:BB:CC:DD:EE:FF")
	baud := flag.Uint("b", 0, "baud rate to set on connect")
	hexMode := flag.Bool("x", false, "send and show data as hex")
	jsonOut := flag.Bool("json", false, "print events as JSON lines")
	mqttMode := flag.Bool("mqtt", false, "bridge the device to the configured MQTT broker")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applyFlags(cfg, *address, *baud, *hexMode, *jsonOut, *mqttMode)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	if cfg.Device.Address == "" {
		log.Fatal("no device address: pass -u or set device.address in the config file")
	}

	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.ParseLogLevel(), "bleterm")
	slog.SetDefault(logger)

	ser, err := bleserial.New(bleserial.NewTinyGoAdapter(), cfg.Device.Address, serialOptions(cfg, logger))
	if err != nil {
		log.Fatalf("Failed to open %s: %v", cfg.Device.Address, err)
	}
	defer ser.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.MQTT.Enabled {
		if err := runBridge(ser, cfg, logger, sigCh); err != nil {
			ser.Close()
			log.Fatalf("mqtt: %v", err)
		}
		return
	}

	if err := runTerminal(ser, cfg, sigCh); err != nil {
		ser.Close()
		log.Fatalf("terminal: %v", err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

// applyFlags overrides file values with the ones given on the command line.
func applyFlags(cfg *config.Config, address string, baud uint, hexMode, jsonOut, mqttMode bool) {
	if address != "" {
		cfg.Device.Address = strings.ToUpper(strings.TrimSpace(address))
	}
	if baud != 0 {
		cfg.Device.BaudRate = uint32(baud)
	}
	if hexMode {
		cfg.Terminal.HexMode = true
	}
	if jsonOut {
		cfg.Terminal.Output = term.OutputJSON
	}
	if mqttMode {
		cfg.MQTT.Enabled = true
	}
}

// serialOptions builds the link options. In terminal mode the configured
// baud is applied by runTerminal, which prints the outcome; SetBaudRate
// keeps it for later reconnects.
func serialOptions(cfg *config.Config, logger *slog.Logger) bleserial.Options {
	opts := bleserial.DefaultOptions()
	opts.ReadTimeout = cfg.Device.ReadTimeout
	opts.Logger = logger
	if cfg.MQTT.Enabled {
		opts.Baud = cfg.Device.BaudRate
	}
	return opts
}

func runTerminal(ser *bleserial.Serial, cfg *config.Config, sigCh <-chan os.Signal) error {
	ending, err := term.ParseLineEnding(cfg.Terminal.LineEnding)
	if err != nil {
		return err
	}
	printer := term.NewPrinter(os.Stdout, cfg.Terminal.Output, cfg.Terminal.HexMode)
	ser.OnEvent(terminalListener(ser, printer, cfg.Terminal.ClearOnDisconnect))

	events, cancel := ser.Subscribe()
	printer.Info("waiting for " + ser.Address() + "...")
	if !waitConnected(events, sigCh) {
		cancel()
		return nil
	}
	cancel()

	if want := cfg.Device.BaudRate; want != 0 {
		go func() {
			got, err := ser.SetBaudRate(want)
			printer.Baud(want, got, err)
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == quitCommand {
				return nil
			}
			data, err := encodeLine(line, cfg.Terminal.HexMode, ending)
			if err != nil {
				printer.Info(err.Error())
				continue
			}
			if _, err := ser.Write(data); err != nil {
				printer.Info("write: " + err.Error())
			}
		case <-sigCh:
			return nil
		}
	}
}

// terminalListener prints serial events. Received data is drained from the
// serial buffer so nothing queued between events is lost.
func terminalListener(ser *bleserial.Serial, printer *term.Printer, clearOnDisconnect bool) bleserial.Listener {
	return bleserial.ListenerFunc(func(e bleserial.Event) {
		switch e.Type {
		case bleserial.EventConnect:
			name, _ := ser.DeviceName()
			baud, _ := ser.BaudRate()
			printer.Connected(name, baud)
		case bleserial.EventDisconnect:
			if clearOnDisconnect {
				ser.DrainReadBuf()
			}
			printer.Disconnected()
		case bleserial.EventReceive:
			if data := ser.DrainReadBuf(); len(data) > 0 {
				printer.Received(data)
			}
		case bleserial.EventWriteFailed:
			printer.WriteFailed(e.Data)
		}
	})
}

func waitConnected(events <-chan bleserial.Event, sigCh <-chan os.Signal) bool {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			if e.Type == bleserial.EventConnect {
				return true
			}
		case <-sigCh:
			return false
		}
	}
}

// encodeLine turns one line of input into the bytes sent to the device.
func encodeLine(line string, hexMode bool, ending term.LineEnding) ([]byte, error) {
	if hexMode {
		return term.ParseHex(line)
	}
	return ending.Apply(line), nil
}

func runBridge(ser *bleserial.Serial, cfg *config.Config, logger *slog.Logger, sigCh <-chan os.Signal) error {
	client, err := bridge.Connect(cfg.MQTT, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	topics := bridge.Topics{Prefix: cfg.MQTT.TopicPrefix}
	br := bridge.New(ser, client, topics, cfg.MQTT.QoS, logger)
	ser.OnEvent(br)
	client.SetOnConnect(br.PublishStatus)

	for _, topic := range []string{topics.TX(), topics.Baud()} {
		if err := client.Subscribe(topic, cfg.MQTT.QoS, br.HandleMessage); err != nil {
			return err
		}
	}
	br.PublishStatus()

	logger.Info("[MQTT] Bridge running", "prefix", cfg.MQTT.TopicPrefix, "device", ser.Address())
	sig := <-sigCh
	logger.Info("[MQTT] Shutting down", "signal", sig.String())
	ser.OnEvent(nil)
	return nil
}
