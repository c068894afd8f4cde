package prodact_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/prodact/pkg/prodact"
)

// call is one recorded handler invocation.
type call struct {
	Handler      string
	Op           string
	Name         string
	Props        prodact.Properties
	OutOfSession bool
	Key          prodact.PropertyKey
	Value        any
}

// journal collects calls from several handlers in global order.
type journal struct {
	mu    sync.Mutex
	calls []call
}

func (j *journal) add(c call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
}

func (j *journal) all() []call {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]call, len(j.calls))
	copy(out, j.calls)
	return out
}

func (j *journal) ops(op string) []call {
	var out []call
	for _, c := range j.all() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// recorder implements both capabilities and writes every call to a journal.
type recorder struct {
	name string
	j    *journal
}

func newRecorder(name string, j *journal) *recorder {
	return &recorder{name: name, j: j}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Configure(context.Context) {
	r.j.add(call{Handler: r.name, Op: "configure"})
}

func (r *recorder) LogEvent(_ context.Context, name string) {
	r.j.add(call{Handler: r.name, Op: "log_event", Name: name})
}

func (r *recorder) LogEventWithProperties(_ context.Context, name string, props prodact.Properties, outOfSession bool) {
	r.j.add(call{Handler: r.name, Op: "log_event_props", Name: name, Props: props, OutOfSession: outOfSession})
}

func (r *recorder) SetUserProperties(_ context.Context, props prodact.Properties) {
	r.j.add(call{Handler: r.name, Op: "set_user_properties", Props: props})
}

func (r *recorder) ClearUserProperties(context.Context) {
	r.j.add(call{Handler: r.name, Op: "clear"})
}

func (r *recorder) Set(_ context.Context, key prodact.PropertyKey, value any) {
	r.j.add(call{Handler: r.name, Op: "set", Key: key, Value: value})
}

func (r *recorder) Add(_ context.Context, key prodact.PropertyKey, value any) {
	r.j.add(call{Handler: r.name, Op: "add", Key: key, Value: value})
}

func (r *recorder) Unset(_ context.Context, key prodact.PropertyKey) {
	r.j.add(call{Handler: r.name, Op: "unset", Key: key})
}

// eventsOnly implements only EventHandler.
type eventsOnly struct {
	r *recorder
}

func (e eventsOnly) Configure(ctx context.Context) { e.r.Configure(ctx) }
func (e eventsOnly) LogEvent(ctx context.Context, name string) {
	e.r.LogEvent(ctx, name)
}
func (e eventsOnly) LogEventWithProperties(ctx context.Context, name string, props prodact.Properties, oos bool) {
	e.r.LogEventWithProperties(ctx, name, props, oos)
}

// panicking panics on every call.
type panicking struct{}

func (panicking) Configure(context.Context) { panic("configure exploded") }
func (panicking) LogEvent(context.Context, string) {
	panic(fmt.Errorf("log exploded"))
}
func (panicking) LogEventWithProperties(context.Context, string, prodact.Properties, bool) {
	panic("log exploded")
}

// mutator modifies the properties it receives.
type mutator struct {
	*recorder
}

func (m mutator) LogEventWithProperties(ctx context.Context, name string, props prodact.Properties, outOfSession bool) {
	props["injected"] = true
	m.recorder.LogEventWithProperties(ctx, name, props, outOfSession)
}

// clearless relies on the shared no-op ClearUserProperties.
type clearless struct {
	prodact.ClearUnsupported
	sets int
}

func (c *clearless) Configure(context.Context)                             {}
func (c *clearless) SetUserProperties(context.Context, prodact.Properties) {}
func (c *clearless) Set(context.Context, prodact.PropertyKey, any)         { c.sets++ }
func (c *clearless) Add(context.Context, prodact.PropertyKey, any)         {}
func (c *clearless) Unset(context.Context, prodact.PropertyKey)            {}
