package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"stripled-controller/internal/agent"
	"stripled-controller/internal/clock"
	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
	"stripled-controller/internal/journal"
	"stripled-controller/internal/mqtt"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		settingsPath string
		logLevel     string
		showVersion  bool
	)
	flag.StringVarP(&settingsPath, "settings", "s", "settings.yaml", "path to the runtime settings file")
	flag.StringVar(&logLevel, "log-level", "", "override the log level from settings")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	log := logrus.New()
	if showVersion {
		log.Infof("stripled %s, commit: %s, built: %s", version, commit, date)
		return
	}

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load settings")
	}
	configureLogger(log, settings, logLevel)
	log.WithFields(logrus.Fields{"version": version, "commit": commit, "built": date}).Info("starting strip led controller")

	err = run(settings, log)
	if errors.Is(err, agent.ErrRestart) {
		// Lines and the broker session are released by now.
		log.Info("restarting device")
		err = hw.NewExecRestarter(settings.RestartCommand, log).Restart()
	}
	if err != nil {
		log.WithError(err).Fatal("controller failed")
	}
	log.Info("controller shut down gracefully")
}

func configureLogger(log *logrus.Logger, s *config.Settings, override string) {
	if s.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	name := s.Log.Level
	if override != "" {
		name = override
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

// run returns agent.ErrRestart when the device should restart.
func run(s *config.Settings, log *logrus.Logger) error {
	pins, err := hw.OpenGPIOPins(s.Pins.Chip,
		[]int{s.Pins.StatusLED},
		[]int{s.Pins.RestartButton, s.Pins.ResetButton},
		s.Pins.ButtonsActiveLow, log)
	if err != nil {
		return err
	}
	defer pins.Close()

	pwm := hw.NewSysfsPWM(s.PWM.Chip, s.PWM.Red, s.PWM.Green, s.PWM.Blue, log)
	defer pwm.Close()

	broker := mqtt.NewClient(s.ConnectTimeout(), log)
	defer broker.Disconnect()

	dev := hw.Device{
		Pins:    pins,
		PWM:     pwm,
		Network: hw.NewNMNetwork("", log),
		Broker:  broker,
	}

	var j agent.Journal
	if jr, err := journal.Open(s.JournalFile); err != nil {
		log.WithError(err).Warn("boot journal unavailable")
	} else {
		defer jr.Close()
		j = jr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := agent.New(agent.OptionsFromSettings(s), config.NewFileStore(s.ConfigFile), dev, clock.NewSystem(), j, core.NewEventBus(), log)
	return a.Run(ctx)
}
