/*
Package cello provides an embeddable HTTP application server for Go.

Cello runs its own HTTP/1.1 engine on raw TCP: a goroutine per keep-alive
connection, a radix-tree router, a middleware and guard pipeline around
application handlers, and a canonical wire serializer with a fast path for
JSON responses.

Quick Start

Basic usage example:

package main

import (
    "context"

    "github.com/jagadeesh32/cello/app"
    "github.com/jagadeesh32/cello/config"
    "github.com/jagadeesh32/cello/core/handler"
    cellohttp "github.com/jagadeesh32/cello/core/http"
)

func main() {
    cfg := config.New("127.0.0.1", 8000)
    application := app.New(cfg)

    application.GET("/ping", func(ctx context.Context, req *cellohttp.Request, deps *handler.Dependencies) (handler.Outcome, error) {
        return handler.RawJSON(`{"ok":true}`), nil
    })

    application.GET("/users/{id}", func(ctx context.Context, req *cellohttp.Request, deps *handler.Dependencies) (handler.Outcome, error) {
        return handler.Structured{Value: map[string]string{"id": req.Param("id")}}, nil
    })

    application.Run(context.Background())
}

Modules

The framework is organized into several modules:

  - app: Application facade and lifecycle management
  - config: Configuration loading and fluent builders
  - core/http: HTTP request/response types and the wire codec
  - core/router: Radix tree routing
  - core/middleware: Middleware, guards and hooks
  - core/handler: Handler registry and dependency container
  - core/metrics: Server counters and latency sampling
  - core/server: Accept loop, connection tasks and the dispatch pipeline
  - core/http2: Optional HTTP/2 (h2/h2c) sidecar listener
*/
package cello
