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

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/RoverGo/internal/config"
	"github.com/cjeanneret/RoverGo/internal/debug"
	"github.com/cjeanneret/RoverGo/internal/hw/gpio"
	"github.com/cjeanneret/RoverGo/internal/hw/pwm"
	"github.com/cjeanneret/RoverGo/internal/hw/sonar"
	"github.com/cjeanneret/RoverGo/internal/input"
	"github.com/cjeanneret/RoverGo/internal/logic/actuator"
	"github.com/cjeanneret/RoverGo/internal/logic/control"
	"github.com/cjeanneret/RoverGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start telemetry server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "force mock GPIO and PWM")
	tickMs := flag.Int("tick_ms", 0, "override control loop period in ms (1-1000)")
	sonarEvery := flag.Int("sonar_every", -1, "override sonar ping period in ticks (0 disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (zero/negative means "use config default")
	if err := validateCLIOverrides(*tickMs, *sonarEvery); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{TickMs: *tickMs, SonarEvery: *sonarEvery, Mock: *mock})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	samples, closeInput, err := openInput(cfg)
	if err != nil {
		log.Fatalf("open input failed: %v", err)
	}
	defer closeInput()

	if err := run(ctx, cfg, samples, webPort.port()); err != nil {
		log.Fatalf("rover stopped: %v", err)
	}
	debug.Info("Rover stopped")
}

// run builds the hardware stack from cfg and drives it from in until the
// input ends or ctx is cancelled. webPort 0 disables the telemetry server.
func run(ctx context.Context, cfg *config.Config, in io.Reader, webPort int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Initialize PWM output
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing PWM output")
	out, err := pwm.NewOutput(cfg.PWMOptions())
	if err != nil {
		return fmt.Errorf("init PWM: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Printf("closing PWM output failed: %v", err)
		}
	}()

	// Actuators
	debug.Step(2, "Attaching pan/tilt servos")
	ptCfg := cfg.PanTiltConfig()
	debug.PrintStruct("Pan binding", ptCfg.Pan)
	debug.PrintStruct("Tilt binding", ptCfg.Tilt)
	panTilt, err := actuator.NewPanTilt(out, ptCfg)
	if err != nil {
		return fmt.Errorf("init pan/tilt: %w", err)
	}
	if _, err := panTilt.Center(); err != nil {
		return fmt.Errorf("center pan/tilt: %w", err)
	}

	debug.Step(3, "Attaching drive servos")
	drvCfg := cfg.DriveConfig()
	debug.PrintStruct("Left binding", drvCfg.Left)
	debug.PrintStruct("Right binding", drvCfg.Right)
	drive, err := actuator.NewDifferentialDrive(out, drvCfg)
	if err != nil {
		return fmt.Errorf("init drive: %w", err)
	}
	if _, err := drive.Stop(); err != nil {
		return fmt.Errorf("stop drive: %w", err)
	}

	// Sonar
	var ranger control.Ranger
	if cfg.Defaults.SonarEvery > 0 {
		debug.Step(4, "Initializing sonar")
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO, cfg.GPIO.Backend)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		sonarCfg, err := cfg.SonarConfig()
		if err != nil {
			return fmt.Errorf("sonar config: %w", err)
		}
		rf, err := sonar.New(gpioDriver, sonarCfg)
		if err != nil {
			return fmt.Errorf("init sonar: %w", err)
		}
		debug.Value("Sonar timeout", rf.Timeout())
		ranger = rf
	}

	g, gctx := errgroup.WithContext(ctx)

	var publisher control.Publisher
	if webPort > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stdout)

		summary, err := web.NewConfigSummary(cfg)
		if err != nil {
			return fmt.Errorf("config summary: %w", err)
		}
		srv := web.NewServer(fmt.Sprintf(":%d", webPort), broadcaster, summary)
		g.Go(func() error { return srv.Run(gctx) })
		publisher = broadcaster
	}

	loop := control.NewLoop(control.LoopConfig{
		PanTilt:    panTilt,
		Drive:      drive,
		Sonar:      ranger,
		Publisher:  publisher,
		Interval:   cfg.TickInterval(),
		SonarEvery: cfg.Defaults.SonarEvery,
	})

	// A blocked read on stdin cannot be interrupted; the stream goroutine
	// exits with the process in that case.
	ch := make(chan actuator.AxisSample)
	go func() {
		if err := input.Stream(gctx, input.NewReader(in), ch); err != nil {
			debug.Error(err)
		}
	}()

	debug.Step(5, "Running control loop")
	g.Go(func() error {
		// end of input stops everything
		defer cancel()
		return loop.Run(gctx, ch)
	})
	return g.Wait()
}

// openInput returns the sample source named in cfg and its closer.
func openInput(cfg *config.Config) (io.Reader, func(), error) {
	switch cfg.Input.Source {
	case input.SourceSerial:
		port, err := input.OpenSerial(cfg.Input.SerialPort, cfg.Input.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		return port, func() { _ = port.Close() }, nil
	default:
		debug.Info("Input: stdin")
		return os.Stdin, func() {}, nil
	}
}

// overrides are CLI values applied over the configuration.
type overrides struct {
	TickMs     int  // 0 = config
	SonarEvery int  // -1 = config
	Mock       bool // true forces mock GPIO and PWM
}

// validateCLIOverrides checks CLI overrides that are set.
func validateCLIOverrides(tickMs, sonarEvery int) error {
	if tickMs != 0 && (tickMs < 1 || tickMs > 1000) {
		return fmt.Errorf("tick_ms must be between 1 and 1000, got %d", tickMs)
	}
	if sonarEvery < -1 {
		return fmt.Errorf("sonar_every must be >= 0, got %d", sonarEvery)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.TickMs > 0 {
		cfg.Defaults.TickMs = o.TickMs
	}
	if o.SonarEvery >= 0 {
		cfg.Defaults.SonarEvery = o.SonarEvery
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
