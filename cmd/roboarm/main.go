// Command roboarm runs the 5-DOF arm controller: the real-time control
// loop, the websocket and HTTP front end, optional WebRTC data channels and
// an optional serial command link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/teslashibe/go-roboarm/internal/config"
	"github.com/teslashibe/go-roboarm/internal/log"
	"github.com/teslashibe/go-roboarm/pkg/controller"
	"github.com/teslashibe/go-roboarm/pkg/hub"
	"github.com/teslashibe/go-roboarm/pkg/output"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
	"github.com/teslashibe/go-roboarm/pkg/rtc"
	"github.com/teslashibe/go-roboarm/pkg/serialio"
	"github.com/teslashibe/go-roboarm/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	flag.StringVar(&cfg.Sink, "sink", cfg.Sink, "output sink: memory, pca9685, feetech or multi")
	flag.IntVar(&cfg.I2CBus, "i2c-bus", cfg.I2CBus, "I2C bus number for the PCA9685")
	flag.StringVar(&cfg.PCA9685Addr, "pca9685-addr", cfg.PCA9685Addr, "PCA9685 I2C address")
	flag.StringVar(&cfg.FeetechPort, "feetech-port", cfg.FeetechPort, "Feetech servo bus device")
	flag.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "serial command link device (empty disables)")
	flag.IntVar(&cfg.SerialBaud, "serial-baud", cfg.SerialBaud, "serial command link baud rate")
	flag.StringVar(&cfg.CalibrationFile, "config", cfg.CalibrationFile, "YAML calibration and channel file")
	flag.BoolVar(&cfg.WebRTC, "webrtc", cfg.WebRTC, "accept WebRTC data-channel sessions")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.Parse()

	log.Init(cfg.LogLevel)

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("roboarm exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) (err error) {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var file *config.File
	if cfg.CalibrationFile != "" {
		if file, err = config.LoadFile(cfg.CalibrationFile); err != nil {
			return err
		}
	}
	table := file.Table()

	sink, err := openSink(cfg, file)
	if err != nil {
		return err
	}
	logged := output.WithLogging(sink, log.Component("output"))
	defer func() {
		err = multierr.Append(err, logged.Close())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	ctrl := controller.New(logged, controller.Config{
		Tick:           cfg.Tick,
		UpdateInterval: cfg.UpdateInterval,
		StatusInterval: cfg.StatusInterval,
		PWMHz:          cfg.PWMHz,
		Calibration:    &table,
	})

	status := hub.New("status", protocol.Encode(protocol.NewWelcome(true)))
	go status.Run(ctx)
	ctrl.AddObserver(status)

	opts := server.Options{
		Controller: ctrl,
		Status:     status,
		SinkStats:  logged.Stats,
	}

	var peers *rtc.Manager
	if cfg.WebRTC {
		peers = rtc.NewManager(ctrl, cfg.ICEServers)
		opts.RTC = peers
		defer func() {
			err = multierr.Append(err, peers.Close())
		}()
	}

	if cfg.SerialPort != "" {
		sc := serialio.DefaultConfig(cfg.SerialPort)
		sc.Baud = cfg.SerialBaud
		port, err := serialio.Open(sc)
		if err != nil {
			return err
		}
		link := serialio.NewLink(port, ctrl).TolerateEOF()
		go func() {
			if err := link.Serve(ctx); err != nil {
				log.Warn("serial link ended", "error", err)
			}
		}()
	}

	srv := server.New(opts)
	go func() {
		if err := srv.Listen(cfg.Listen); err != nil {
			log.Error("http server failed", "error", err)
			cancel()
		}
	}()

	log.Info("roboarm started",
		"listen", cfg.Listen,
		"sink", cfg.Sink,
		"pwm_hz", cfg.PWMHz,
		"webrtc", cfg.WebRTC,
		"serial", cfg.SerialPort)

	runErr := ctrl.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))

	if errors.Is(runErr, context.Canceled) {
		return err
	}
	return multierr.Append(err, runErr)
}

func openSink(cfg *config.Config, file *config.File) (output.Sink, error) {
	switch cfg.Sink {
	case config.SinkMemory:
		return output.NewMemory(), nil
	case config.SinkPCA9685:
		return openPCA9685(cfg, file)
	case config.SinkFeetech:
		return openFeetech(cfg, file)
	case config.SinkMulti:
		pca, err := openPCA9685(cfg, file)
		if err != nil {
			return nil, err
		}
		ft, err := openFeetech(cfg, file)
		if err != nil {
			return nil, multierr.Append(err, pca.Close())
		}
		return output.Multi{pca, ft}, nil
	}
	return nil, fmt.Errorf("%w: %s", output.ErrUnknownSink, cfg.Sink)
}

func openPCA9685(cfg *config.Config, file *config.File) (output.Sink, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	bus, err := output.OpenI2C(cfg.I2CBus)
	if err != nil {
		return nil, err
	}
	dev := output.NewPCA9685(bus, addr, file.ChannelMap())
	if err := dev.Configure(cfg.PWMHz); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to configure pca9685: %w", err), bus.Close())
	}
	log.Info("pca9685 ready", "bus", cfg.I2CBus, "addr", fmt.Sprintf("%#02x", addr), "pwm_hz", cfg.PWMHz)
	return closer{dev, bus}, nil
}

func openFeetech(cfg *config.Config, file *config.File) (output.Sink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ids := file.IDs()
	bus, err := output.OpenFeetech(ctx, cfg.FeetechPort, cfg.FeetechBaud, ids)
	if err != nil {
		return nil, err
	}
	log.Info("feetech bus ready", "port", cfg.FeetechPort, "ids", ids)
	return bus, nil
}

// closer closes the I2C device after the PCA9685 that uses it.
type closer struct {
	*output.PCA9685
	bus *output.I2CDev
}

func (c closer) Close() error {
	return multierr.Append(c.PCA9685.Close(), c.bus.Close())
}
