package chronos

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/Swind/go-chronos/core"
)

// Standard executor names.
const (
	// ExecutorUserInteractive is for work the user is actively waiting on,
	// such as event handling or refreshing what is on screen.
	ExecutorUserInteractive = "USER_INTERACTIVE"
	// ExecutorUserInitiated is for work that keeps the user from continuing.
	ExecutorUserInitiated = "USER_INITIATED"
	// ExecutorDefault is for work without a more specific home.
	ExecutorDefault = "DEFAULT"
	// ExecutorUtility is for work the user does not track actively.
	ExecutorUtility = "UTILITY"
	// ExecutorBackground is for maintenance and cleanup. Lookups of unknown
	// names fall back to it.
	ExecutorBackground = "BACKGROUND"
	// ExecutorUnspecified is the lowest priority pool.
	ExecutorUnspecified = "UNSPECIFIED"
)

var (
	// DefaultWorkers is the worker count of executors that do not set one.
	DefaultWorkers = runtime.NumCPU() + 1
	// MaxWorkers is the worker count of the user-facing executors.
	MaxWorkers = runtime.NumCPU()*2 + 1
)

// =============================================================================
// ThreadPriority: nice value of worker threads
// =============================================================================

// ThreadPriority is the nice value applied to the OS threads of an
// executor's workers. Lower is more urgent.
type ThreadPriority int

const (
	ThreadPriorityMax        ThreadPriority = 0
	ThreadPriorityHigh       ThreadPriority = 2
	ThreadPriorityNorm       ThreadPriority = 4
	ThreadPriorityBackground ThreadPriority = 10
	ThreadPriorityMin        ThreadPriority = 13
)

var threadPriorityNames = map[ThreadPriority]string{
	ThreadPriorityMax:        "MAX",
	ThreadPriorityHigh:       "HIGH",
	ThreadPriorityNorm:       "NORM",
	ThreadPriorityBackground: "BACKGROUND",
	ThreadPriorityMin:        "MIN",
}

func (p ThreadPriority) String() string {
	if name, ok := threadPriorityNames[p]; ok {
		return "PThreadPriority." + name
	}
	return fmt.Sprintf("PThreadPriority(%d)", int(p))
}

// ParseThreadPriority accepts "PThreadPriority.HIGH" or "HIGH".
func ParseThreadPriority(s string) (ThreadPriority, error) {
	name := strings.TrimPrefix(s, "PThreadPriority.")
	for p, n := range threadPriorityNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("chronos: unknown thread priority %q", s)
}

func (p ThreadPriority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *ThreadPriority) UnmarshalText(b []byte) error {
	v, err := ParseThreadPriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// =============================================================================
// ExecutorSettings and Config
// =============================================================================

// ExecutorSettings describes one executor of a Registry.
type ExecutorSettings struct {
	ID           string         `json:"executorId"`
	Workers      int            `json:"workers,omitempty"`
	QueueType    core.QueueType `json:"queueType"`
	MaxQueueSize int            `json:"maxQueueSize,omitempty"`
	// ThreadPriority, when set, is applied to every worker thread on Linux.
	ThreadPriority *ThreadPriority  `json:"threadPriority,omitempty"`
	Retry          core.RetryPolicy `json:"retry"`
}

func (s ExecutorSettings) String() string {
	prio := "unset"
	if s.ThreadPriority != nil {
		prio = s.ThreadPriority.String()
	}
	return fmt.Sprintf("[%s] : %d, %s, %d, %s", s.ID, s.Workers, s.QueueType, s.MaxQueueSize, prio)
}

func (s ExecutorSettings) options() []core.Option {
	opts := []core.Option{
		core.WithID(s.ID),
		core.WithWorkers(s.Workers),
		core.WithQueueType(s.QueueType),
		core.WithMaxQueueSize(s.MaxQueueSize),
		core.WithRetryPolicy(s.Retry),
	}
	if s.ThreadPriority != nil {
		opts = append(opts, core.WithThreadNice(int(*s.ThreadPriority)))
	}
	return opts
}

// Config is the set of executors a Registry manages.
type Config struct {
	Executors []ExecutorSettings `json:"executors"`
}

// Settings returns the settings for id.
func (c Config) Settings(id string) (ExecutorSettings, bool) {
	for _, s := range c.Executors {
		if s.ID == id {
			return s, true
		}
	}
	return ExecutorSettings{}, false
}

func threadPriority(p ThreadPriority) *ThreadPriority { return &p }

// BaseConfig is the threading configuration used in absence of overrides.
func BaseConfig() Config {
	return Config{Executors: []ExecutorSettings{
		{ID: ExecutorUserInteractive, Workers: MaxWorkers, ThreadPriority: threadPriority(ThreadPriorityMax)},
		{ID: ExecutorUserInitiated, Workers: MaxWorkers, ThreadPriority: threadPriority(ThreadPriorityHigh)},
		{ID: ExecutorDefault, Workers: DefaultWorkers, ThreadPriority: threadPriority(ThreadPriorityNorm)},
		{ID: ExecutorUtility, Workers: DefaultWorkers, ThreadPriority: threadPriority(ThreadPriorityBackground)},
		{ID: ExecutorBackground, Workers: DefaultWorkers, ThreadPriority: threadPriority(ThreadPriorityBackground)},
		{ID: ExecutorUnspecified, Workers: DefaultWorkers, ThreadPriority: threadPriority(ThreadPriorityMin)},
	}}
}

// settingsOverride is one element of an override document. Absent fields
// keep the base value.
type settingsOverride struct {
	ID             string            `json:"executorId"`
	Workers        *int              `json:"workers"`
	MaxQueueSize   *int              `json:"maxQueueSize"`
	ThreadPriority *string           `json:"threadPriority"`
	Retry          *core.RetryPolicy `json:"retry"`
}

// ApplyOverrides returns a copy of base with the settings of a JSON array of
// partial overrides applied, e.g.
//
//	[{"executorId": "DEFAULT", "workers": 24, "threadPriority": "PThreadPriority.HIGH"}]
//
// Overrides for executors that are not in base are ignored. The queue type
// of an executor cannot be overridden. An unknown thread priority keeps the
// base value.
func ApplyOverrides(base Config, argument string) (Config, error) {
	if strings.TrimSpace(argument) == "" {
		return base, nil
	}
	var overrides []settingsOverride
	if err := json.Unmarshal([]byte(argument), &overrides); err != nil {
		return base, fmt.Errorf("chronos: parse executor overrides: %w", err)
	}
	byID := make(map[string]settingsOverride, len(overrides))
	for _, o := range overrides {
		byID[o.ID] = o
	}

	out := Config{Executors: make([]ExecutorSettings, len(base.Executors))}
	for i, s := range base.Executors {
		o, ok := byID[s.ID]
		if ok {
			if o.Workers != nil {
				s.Workers = *o.Workers
			}
			if o.MaxQueueSize != nil {
				s.MaxQueueSize = *o.MaxQueueSize
			}
			if o.ThreadPriority != nil {
				if p, err := ParseThreadPriority(*o.ThreadPriority); err == nil {
					s.ThreadPriority = &p
				}
			}
			if o.Retry != nil {
				s.Retry = *o.Retry
			}
		}
		out.Executors[i] = s
	}
	return out, nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry returns the executor for a name, creating executors from their
// settings. It is safe for concurrent use.
type Registry struct {
	opts []core.Option

	mu        sync.Mutex
	settings  map[string]ExecutorSettings
	executors map[string]*core.Executor
}

// NewRegistry creates every executor of cfg. opts apply to all of them
// before the per-executor settings, e.g. core.WithLogger or
// core.WithEventSink.
func NewRegistry(cfg Config, opts ...core.Option) *Registry {
	r := &Registry{
		opts:      opts,
		settings:  make(map[string]ExecutorSettings, len(cfg.Executors)),
		executors: make(map[string]*core.Executor, len(cfg.Executors)),
	}
	for _, s := range cfg.Executors {
		r.settings[s.ID] = s
		r.executors[s.ID] = r.create(s)
	}
	return r
}

func (r *Registry) create(s ExecutorSettings) *core.Executor {
	opts := make([]core.Option, 0, len(r.opts)+6)
	opts = append(opts, r.opts...)
	opts = append(opts, s.options()...)
	return core.NewExecutor(opts...)
}

// Get returns the executor for name, falling back to BACKGROUND. An
// executor that was shut down is replaced by a fresh one built from the
// same settings.
func (r *Registry) Get(name string) (*core.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := name
	if _, ok := r.settings[id]; !ok {
		id = ExecutorBackground
	}
	s, ok := r.settings[id]
	if !ok {
		return nil, fmt.Errorf("chronos: %q and %s not in executor config", name, ExecutorBackground)
	}

	exec := r.executors[id]
	if exec == nil || exec.IsShutdown() {
		exec = r.create(s)
		r.executors[id] = exec
	}
	return exec, nil
}

// Shutdown calls ShutdownNow on the executor for name and reports whether
// it existed. A later Get recreates it.
func (r *Registry) Shutdown(name string) bool {
	r.mu.Lock()
	exec, ok := r.executors[name]
	r.mu.Unlock()
	if !ok || exec == nil {
		return false
	}
	exec.ShutdownNow()
	return true
}

// ShutdownAll shuts every executor down gracefully, waiting up to timeout
// for each, and returns the combined timeout errors.
func (r *Registry) ShutdownAll(timeout time.Duration) error {
	r.mu.Lock()
	execs := make([]*core.Executor, 0, len(r.executors))
	for _, exec := range r.executors {
		execs = append(execs, exec)
	}
	r.mu.Unlock()

	for _, exec := range execs {
		exec.Shutdown()
	}
	var err error
	for _, exec := range execs {
		err = multierr.Append(err, exec.ShutdownGraceful(timeout))
	}
	return err
}

// Names returns the configured executor names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.settings))
	for id := range r.settings {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every live executor.
func (r *Registry) Stats() []core.ExecutorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ExecutorStats, 0, len(r.executors))
	for _, id := range r.namesLocked() {
		if exec := r.executors[id]; exec != nil {
			out = append(out, exec.Stats())
		}
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.executors))
	for id := range r.executors {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
