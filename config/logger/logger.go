// Package logger provides zap logger implimentation logic.
package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/crabzie/task-console/config/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// atomicLevel is logger log level invariant
var atomicLevel = zap.NewAtomicLevel()

// Build is a build function that's responsible for setting up base logger
func Build(config *config.Logger) *zap.Logger {
	// Parse AtomicLevel from string
	t, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		log.Fatalf("Couldn't parse initial atomic level at logger build: %v", err)
	}
	atomicLevel.SetLevel(t.Level())

	logger := zap.New(newCore(config, os.Stdout, os.Stderr), zap.AddCaller())
	if config.Development {
		logger = logger.WithOptions(zap.Development())
	}
	if !config.DisableStacktrace {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	zap.ReplaceGlobals(logger)

	// Only watch when a config file was actually read
	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			if in.Op&(fsnotify.Create) == 0 {
				SetLevel(viper.GetString("logger.level"))
			}
		})
		viper.WatchConfig()
	}
	return logger
}

// newCore tees low priority entries to out and errors to errOut
func newCore(config *config.Logger, out, errOut zapcore.WriteSyncer) zapcore.Core {
	// create encoder
	encoder := zapcore.NewJSONEncoder(config.EncoderConfig)
	if config.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(config.EncoderConfig)
	}

	// Level filters
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	infoCore := zapcore.NewCore(encoder, out, lowPriority)
	errorCore := zapcore.NewCore(encoder, errOut, highPriority)
	return zapcore.NewTee(infoCore, errorCore)
}

// SetLevel changes logger level dynamically
func SetLevel(level string) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		zap.L().Error("Couldn't parse level", zap.Error(err))
	} else {
		zap.L().Info("Atomic level updated", zap.String("value", level))
		atomicLevel.SetLevel(l)
	}
}
