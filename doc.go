// Package chronos provides priority-ordered task executors for work that is
// partly user-driven and latency-sensitive and partly best-effort.
//
// Every submitted task declares one of five tiers. The tier decides how the
// executor runs it:
//
//   - Main: synchronously, before Submit returns, serialized per executor on
//     the calling goroutine or on a dedicated core.MainThread.
//   - Blocking: immediately and in parallel with the rest of its batch; the
//     caller waits until the whole batch has finished.
//   - High, Medium, Background: queued and picked by workers, higher tier
//     first, equal tiers in submission order.
//
// Medium and Background work can be deferred indefinitely when High work
// keeps arriving. That is the intended trade-off: reserve the upper tiers
// for work whose absence the user would notice.
//
// # Quick Start
//
// Initialize the global registry at application startup:
//
//	chronos.InitGlobalRegistry(chronos.BaseConfig())
//	defer chronos.ShutdownGlobalRegistry()
//
// Get an executor by name and submit work:
//
//	exec, err := chronos.GetExecutor(chronos.ExecutorUserInitiated)
//	if err != nil {
//		return err
//	}
//	h, err := exec.Submit(ctx, core.NewTask(core.TaskPriorityHigh, func(ctx context.Context) error {
//		return loadConversation(ctx, id)
//	}))
//	if err != nil {
//		return err
//	}
//	return h.Wait(ctx)
//
// # Key Concepts
//
// Executor: a fixed pool of worker goroutines over a pending-work queue
// ordered by (tier desc, sequence asc). See core.Executor.
//
// Registry: executors keyed by name, built from ExecutorSettings. Lookups of
// unknown names fall back to BACKGROUND; executors that were shut down are
// recreated on the next lookup.
//
// Measurement: every executor keeps running averages of wait and execution
// time and can post measure events to a stream.Stream.
package chronos
