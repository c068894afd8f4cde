/*
Package prodact provides a vendor-agnostic analytics facade.

# Overview

Application code logs events and user properties through one Analytics
value. Analytics forwards every call to each registered backend adapter,
so the same event can reach several analytics vendors at once without the
calling code knowing which ones are installed.

# Keys

Events and user properties are identified by typed keys declared once:

	var (
	    AppOpen   = prodact.NewEventKey[prodact.Empty]("app_open")
	    Search    = prodact.NewEventKey[SearchParams]("search")
	    DarkMode  = prodact.NewEventKey[prodact.Value[bool]]("dark_mode")
	    Purchases = prodact.NewUserPropertyKey[int]("purchases")
	    Cohort    = prodact.NewUserPropertyKey[string]("cohort",
	        prodact.WithMutability(prodact.WriteOnce))
	)

The payload type of an EventKey is checked at compile time: passing a
SearchParams to DarkMode does not build.

# Basic Usage

	a := prodact.New(prodact.WithLogger(logger))
	a.AddHandler(memory.New())
	a.AddHandler(sqlite.New("analytics.db"))
	a.ConfigureAll(ctx)

	a.LogEvent(ctx, AppOpen)
	if err := prodact.LogEventWith(ctx, a, Search, SearchParams{Query: "go"}); err != nil {
	    // the payload could not be flattened; no backend saw it
	}

	prodact.Set(ctx, a, Cohort, "2024-W10")
	prodact.Add(ctx, a, Purchases, 1)
	prodact.Unset(ctx, a, Purchases)

# Handlers

Adapters implement EventHandler, UserPropertiesHandler, or both. Calls are
fire-and-forget: adapters hand work to their backend without blocking and
report backend failures through their own logging. A handler whose backend
has no bulk clear embeds ClearUnsupported.

# Lifecycle

Analytics starts Unconfigured. Register handlers, then call ConfigureAll
once. Handlers registered after ConfigureAll are not configured by
Analytics; a warning is logged.

# Observability

WithLogger, WithMetrics and WithTracing enable slog diagnostics,
OpenTelemetry counters and one span per dispatch. All are off by default.
*/
package prodact
