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

// Package httpapi exposes the assistant over JSON HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"metered-assistant-go/internal/coordinator"
	"metered-assistant-go/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, in coordinator.Inbound) (*coordinator.Reply, error)
}

type Crediter interface {
	CreditAccount(ctx context.Context, actorExternalId, targetExternalId string, amount int64, description string) (*models.Transaction, error)
}

type RoleStore interface {
	GetAccountByExternalId(ctx context.Context, externalId string) (*models.Account, error)
	UpsertRolePrompt(ctx context.Context, role models.RolePrompt) (*models.RolePrompt, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Guard serializes AI requests per account. session.Store satisfies it.
type Guard interface {
	TryAcquire(ctx context.Context, accountId string) (bool, error)
	Release(ctx context.Context, accountId string)
}

type Dependencies struct {
	Dispatcher Dispatcher
	Admin      Crediter
	Roles      RoleStore
	Health     Pinger
	Guard      Guard
}

type Server struct {
	deps     Dependencies
	validate *validator.Validate
	timeout  time.Duration
}

// NewServer builds the handler set. requestTimeout bounds each request and
// must exceed the provider call timeout.
func NewServer(deps Dependencies, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Server{
		deps:     deps,
		validate: validator.New(),
		timeout:  requestTimeout,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Post("/admin/credits", s.handleAdminCredit)
		r.Put("/accounts/{account_id}/role", s.handleSetRole)
	})

	return r
}
