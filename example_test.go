package chronos_test

import (
	"context"
	"fmt"

	chronos "github.com/Swind/go-chronos"
	"github.com/Swind/go-chronos/core"
)

// ExampleGetExecutor demonstrates the basic usage of the global registry.
func ExampleGetExecutor() {
	chronos.InitGlobalRegistry(chronos.BaseConfig())
	defer chronos.ShutdownGlobalRegistry()

	exec, err := chronos.GetExecutor(chronos.ExecutorUserInitiated)
	if err != nil {
		panic(err)
	}

	h, err := exec.Submit(context.Background(), chronos.NewVoidTask(chronos.TaskPriorityHigh, func(ctx context.Context) {
		fmt.Println("loaded conversation")
	}))
	if err != nil {
		panic(err)
	}
	if err := h.Wait(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// loaded conversation
}

// ExampleExecutor_SubmitAll demonstrates how one wave is scheduled: Main
// tasks first, then the Blocking batch, then the queued tiers.
func ExampleExecutor_SubmitAll() {
	exec := chronos.NewExecutor(core.WithID("wave"), core.WithWorkers(1))
	defer exec.ShutdownGraceful(chronos.DefaultShutdownTimeout)

	say := func(p chronos.TaskPriority, msg string) chronos.PrioritizedTask {
		return chronos.NewVoidTask(p, func(ctx context.Context) { fmt.Println(msg) })
	}

	handles, err := exec.SubmitAll(context.Background(),
		say(chronos.TaskPriorityMain, "main: render cached chat"),
		say(chronos.TaskPriorityBlocking, "blocking: open database"),
	)
	if err != nil {
		panic(err)
	}
	fmt.Println(len(handles), "tasks done before SubmitAll returned")

	// Output:
	// main: render cached chat
	// blocking: open database
	// 2 tasks done before SubmitAll returned
}

// ExamplePriorityTask shows a task type that carries its tier by embedding.
func ExamplePriorityTask() {
	type syncMail struct {
		chronos.PriorityTask
		folder string
	}
	task := syncMail{PriorityTask: chronos.NewPriorityTask(chronos.TaskPriorityMedium), folder: "inbox"}

	fmt.Println(task.Priority(), task.folder)

	// Output:
	// medium inbox
}

// ExampleApplyOverrides demonstrates adjusting the base configuration.
func ExampleApplyOverrides() {
	cfg, err := chronos.ApplyOverrides(chronos.BaseConfig(),
		`[{"executorId": "UTILITY", "workers": 3, "threadPriority": "PThreadPriority.MIN"}]`)
	if err != nil {
		panic(err)
	}

	s, _ := cfg.Settings(chronos.ExecutorUtility)
	fmt.Println(s.Workers, s.ThreadPriority)

	// Output:
	// 3 PThreadPriority.MIN
}
