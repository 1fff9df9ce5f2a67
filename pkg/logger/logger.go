// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger hands out named zap loggers, one per component.
//
//	log := logger.For(logger.ComponentSession)
//	log.Debugf("Connecting to %s", endpoint)
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
)

// Init replaces the process-wide base logger with a production logger at the given level.
// Valid levels are the zapcore names ("debug", "info", "warn", "error"); an unknown level falls back to info.
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	SetBase(l)
	return nil
}

// SetBase installs l as the base logger. Loggers handed out before the call keep their old core.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// For returns a sugared logger named after the component
func For(component string) *zap.SugaredLogger {
	mu.RLock()
	l := base
	mu.RUnlock()

	if l == nil {
		mu.Lock()
		if base == nil {
			base, _ = zap.NewProduction()
			if base == nil {
				base = zap.NewNop()
			}
		}
		l = base
		mu.Unlock()
	}

	return l.Named(component).Sugar()
}
