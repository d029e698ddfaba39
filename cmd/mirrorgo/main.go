package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/MirrorGo/internal/config"
	"github.com/cjeanneret/MirrorGo/internal/debug"
	"github.com/cjeanneret/MirrorGo/internal/hw/button"
	"github.com/cjeanneret/MirrorGo/internal/hw/gpio"
	"github.com/cjeanneret/MirrorGo/internal/hw/hbridge"
	"github.com/cjeanneret/MirrorGo/internal/hw/serial"
	"github.com/cjeanneret/MirrorGo/internal/logic/control"
	"github.com/cjeanneret/MirrorGo/internal/logic/mirror"
	"github.com/cjeanneret/MirrorGo/internal/storage"
	"github.com/cjeanneret/MirrorGo/internal/web"
)

// Version is reported in the boot banner and the status endpoint.
const Version = "1.0"

// overrides holds CLI values that take precedence over the config file.
type overrides struct {
	DebugLevel int  // -1 = keep config
	WebPort    int  // 0 = keep config
	Mock       bool // force mock GPIO
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start read-only status server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	mock := flag.Bool("mock", false, "force mock GPIO (bench run)")
	holdButton := flag.Bool("button", false, "with mock GPIO, hold the simulated button HIGH")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{DebugLevel: *debugLevel, WebPort: webPort.port(), Mock: *mock})

	// Diagnostic stream: stdout, plus serial line and SSE when enabled.
	debug.Init(cfg.Defaults.DebugLevel)
	outputs := []io.Writer{os.Stdout}
	var broadcaster *web.StatusBroadcaster
	if cfg.Defaults.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		outputs = append(outputs, web.BroadcastWriter(broadcaster))
	}
	// Serial goes last; its Port swallows write errors once logged.
	if cfg.Serial.Device != "" {
		port, err := serial.Open(serial.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud})
		if err != nil {
			log.Printf("diagnostic serial disabled: %v", err)
		} else {
			defer port.Close()
			outputs = append(outputs, port)
		}
	}
	debug.SetOutput(io.MultiWriter(outputs...))

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.PrintStruct("Config", *cfg)

	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing H-bridge and button")
	bridge, err := hbridge.New(gpioDriver, hbridge.Config{
		ForwardPin: cfg.Pins.Forward,
		ReversePin: cfg.Pins.Reverse,
	})
	if err != nil {
		log.Fatalf("init H-bridge failed: %v", err)
	}
	defer bridge.Stop()

	btn, err := button.New(gpioDriver, cfg.Pins.Button)
	if err != nil {
		log.Fatalf("init button failed: %v", err)
	}
	if mockDrv, ok := gpioDriver.(*gpio.MockDriver); ok && *holdButton {
		debug.Info("Simulated button held HIGH")
		mockDrv.SetInput(cfg.Pins.Button, gpio.High)
	}

	store := storage.NewStore(newMedium(cfg), cfg.Storage.Address)
	defer store.Close()

	ctrl := control.NewController(store, btn, bridge, control.Config{
		Version:   Version,
		Capacity:  cfg.Storage.Capacity,
		BootDelay: cfg.BootDelay(),
		IdleDelay: cfg.IdleDelay(),
		Actuator: mirror.Config{
			MaxPosition: cfg.Defaults.MaxPosition,
			StepDelay:   cfg.StepDelay(),
		},
	})

	if broadcaster != nil {
		srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Defaults.WebPort), broadcaster, ctrl.Status)
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
			}
		}()
	}

	if err := ctrl.Boot(ctx); err != nil {
		debug.Info("Boot interrupted: %v", err)
		return
	}
	if err := ctrl.Run(ctx); err != nil {
		log.Printf("control loop: %v", err)
	}
	debug.Info("Shutting down at position %d", ctrl.Status().Mirror.Position)
}

// newMedium selects the storage backend.
func newMedium(cfg *config.Config) storage.Medium {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		debug.Info("Using volatile MEMORY storage (bench mode)")
		return storage.NewMemoryMedium()
	default:
		debug.Value("Storage path", cfg.Storage.Path)
		return storage.NewStormMedium(cfg.Storage.Path)
	}
}

// validateCLIOverrides checks the CLI values that are not range-checked by flag parsing.
func validateCLIOverrides(debugLevel int) error {
	if debugLevel < -1 || debugLevel > debug.LevelTrace {
		return fmt.Errorf("debug must be between 0 and %d, got %d", debug.LevelTrace, debugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
	if o.WebPort > 0 {
		cfg.Defaults.WebPort = o.WebPort
	}
	if o.Mock {
		cfg.Defaults.MockGPIO = true
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
