/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"metered-assistant-go/internal/models"
)

const DefaultRolePrompt = "You are a patient English teacher. Correct the user's English " +
	"grammar and spelling, or translate their text into natural English when it is written " +
	"in another language. Explain each mistake briefly."

const DefaultMetaInstructions = "Always decide: correction vs translation." +
	" If translation, output only natural English translation." +
	" If correction, include a Markdown table with columns: | Original | Error Type | Explanation | Correction |," +
	" then provide the corrected sentence. Keep responses concise."

const holdTimeoutMargin = 30 * time.Second

func Load() (*models.Config, error) {
	d := &durationReader{}
	connMaxLifetime := d.read("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := d.read("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	pingTimeout := d.read("DB_PING_TIMEOUT", 5*time.Second)
	busyTimeout := d.read("DB_BUSY_TIMEOUT", 5*time.Second)
	requestTimeout := d.read("AI_REQUEST_TIMEOUT", 30*time.Second)
	holdTimeout := d.read("HOLD_TIMEOUT", 2*time.Minute)
	sweepInterval := d.read("HOLD_SWEEP_INTERVAL", time.Minute)
	sessionTTL := d.read("REDIS_SESSION_TTL", 10*time.Minute)
	readTimeout := d.read("SERVER_READ_TIMEOUT", 15*time.Second)
	writeTimeout := d.read("SERVER_WRITE_TIMEOUT", 90*time.Second)
	shutdownTimeout := d.read("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second)
	if d.err != nil {
		return nil, d.err
	}

	// Agent mode can make two capped provider calls while a hold is open
	if minHold := 2*requestTimeout + holdTimeoutMargin; holdTimeout <= minHold {
		return nil, fmt.Errorf("HOLD_TIMEOUT (%s) must exceed twice AI_REQUEST_TIMEOUT plus %s (%s)",
			holdTimeout, holdTimeoutMargin, minHold)
	}

	cfg := &models.Config{
		ProjectName: getEnvString("PROJECT_NAME", "English Teacher Assistant"),
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "assistant.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		AI: models.AIConfig{
			APIKey:            getEnvString("OPENAI_API_KEY", ""),
			BaseURL:           getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:             getEnvString("DEFAULT_AI_MODEL", "gpt-4o-mini"),
			Temperature:       getEnvFloat("AI_TEMPERATURE", 0.7),
			TopP:              getEnvFloat("AI_TOP_P", 1.0),
			PresencePenalty:   getEnvFloat("AI_PRESENCE_PENALTY", 0),
			FrequencyPenalty:  getEnvFloat("AI_FREQUENCY_PENALTY", 0),
			MaxResponseTokens: getEnvInt("AI_MAX_RESPONSE_TOKENS", 800),
			ContextMessages:   getEnvInt("AI_CONTEXT_MESSAGES", 3),
			HardInputLimit:    getEnvInt("AI_HARD_INPUT_LIMIT", 8000),
			SafetyMargin:      getEnvInt("AI_SAFETY_MARGIN", 100),
			MinResponseTokens: getEnvInt("AI_MIN_RESPONSE_TOKENS", 50),
			RequestTimeout:    requestTimeout,
			AgentMode:         getEnvBool("AGENT_MODE_ENABLED", false),
			MetaInstructions:  getEnvString("META_INSTRUCTIONS", DefaultMetaInstructions),
			ModelsFile:        getEnvString("MODELS_FILE", ""),
		},
		Billing: models.BillingConfig{
			WelcomeBonus:      int64(getEnvInt("WELCOME_BONUS", 100)),
			UsageCost:         int64(getEnvInt("USAGE_COST", 1)),
			DefaultRoleName:   getEnvString("DEFAULT_ROLE_NAME", "teacher"),
			DefaultRolePrompt: getEnvString("DEFAULT_ROLE_PROMPT", DefaultRolePrompt),
			AdminIds:          getEnvList("ADMIN_IDS"),
			ResponsesFile:     getEnvString("RESPONSES_FILE", ""),
			RenderMode:        getEnvString("RENDER_MODE", "markdown"),
		},
		Reconciler: models.ReconcilerConfig{
			HoldTimeout:   holdTimeout,
			SweepInterval: sweepInterval,
		},
		Redis: models.RedisConfig{
			Addr:       getEnvString("REDIS_ADDR", ""),
			Password:   getEnvString("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			SessionTTL: sessionTTL,
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "metered-assistant"),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8021"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}

	if cfg.Billing.WelcomeBonus < 0 {
		return nil, fmt.Errorf("WELCOME_BONUS cannot be negative, got %d", cfg.Billing.WelcomeBonus)
	}
	if cfg.Billing.UsageCost <= 0 {
		return nil, fmt.Errorf("USAGE_COST must be positive, got %d", cfg.Billing.UsageCost)
	}
	if cfg.AI.ContextMessages < 0 {
		return nil, fmt.Errorf("AI_CONTEXT_MESSAGES cannot be negative, got %d", cfg.AI.ContextMessages)
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

// durationReader keeps the first parse error so Load can check once
type durationReader struct {
	err error
}

func (r *durationReader) read(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvDuration(key, defaultValue)
	if err != nil && r.err == nil {
		r.err = err
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
