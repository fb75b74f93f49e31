package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	internal_http "github.com/bumahkib7/vernont-backend-sub007/internal/http"
	"github.com/bumahkib7/vernont-backend-sub007/internal/log"
	"github.com/bumahkib7/vernont-backend-sub007/internal/service"
	internal_storage "github.com/bumahkib7/vernont-backend-sub007/internal/storage"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/engine"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflow executions",
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			executions, err := svc.ListExecutions()
			if err != nil {
				fail("failed to list executions: %v", err)
			}
			if len(executions) == 0 {
				fmt.Fprintln(os.Stdout, "No executions found.")
				return
			}
			for _, e := range executions {
				fmt.Fprintf(os.Stdout, "- ID: %s, Workflow: %s, Status: %s, Retries: %d/%d, Created: %s\n",
					e.ID, e.WorkflowName, e.Status, e.RetryCount, e.MaxRetries, e.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			e, err := svc.GetExecution(args[0])
			if err != nil {
				fail("failed to get execution %s: %v", args[0], err)
			}
			fmt.Fprintf(os.Stdout, "ID: %s\nWorkflow: %s\nStatus: %s\nRetries: %d/%d\n",
				e.ID, e.WorkflowName, e.Status, e.RetryCount, e.MaxRetries)
			if e.ErrorMessage != "" {
				fmt.Fprintf(os.Stdout, "Error: %s\n", e.ErrorMessage)
			}
			if e.CompletedAt != nil {
				fmt.Fprintf(os.Stdout, "Completed: %s\n", e.CompletedAt.Format(time.RFC3339))
			}
		},
	}

	resultCmd := &cobra.Command{
		Use:   "result [result-id]",
		Short: "Look up the execution that produced a result id",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			e, err := svc.FindByResultID(args[0])
			if err != nil {
				fail("failed to resolve result %s: %v", args[0], err)
			}
			fmt.Fprintf(os.Stdout, "Execution: %s\nWorkflow: %s\nStatus: %s\nPayload: %s\n",
				e.ID, e.WorkflowName, e.Status, string(e.ResultPayload))
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events [id]",
		Short: "List the step event audit trail of an execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			order := storage.OrderByStepIndex
			if byTime, _ := cmd.Flags().GetBool("by-time"); byTime {
				order = storage.OrderByStartedAt
			}
			events, err := svc.ListStepEvents(args[0], order)
			if err != nil {
				fail("failed to list step events for %s: %v", args[0], err)
			}
			for _, ev := range events {
				duration := "-"
				if ev.DurationMs != nil {
					duration = fmt.Sprintf("%dms", *ev.DurationMs)
				}
				fmt.Fprintf(os.Stdout, "- [%d] %s: %s (%s)\n", ev.StepIndex, ev.StepName, ev.Status, duration)
			}
		},
	}
	eventsCmd.Flags().Bool("by-time", false, "Order events by start time instead of step index")

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Request cooperative cancellation of an execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			if err := svc.Cancel(args[0]); err != nil {
				fail("failed to cancel execution %s: %v", args[0], err)
			}
			fmt.Fprintf(os.Stdout, "Requested cancellation of execution %s\n", args[0])
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause a running execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			if err := svc.Pause(args[0]); err != nil {
				fail("failed to pause execution %s: %v", args[0], err)
			}
			fmt.Fprintf(os.Stdout, "Paused execution %s\n", args[0])
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a paused execution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := adminService(cmd)
			if err := svc.Resume(args[0]); err != nil {
				fail("failed to resume execution %s: %v", args[0], err)
			}
			fmt.Fprintf(os.Stdout, "Resumed execution %s\n", args[0])
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation sweep",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			r := engine.NewReconciler(store, log.GetLogger(), engine.ReconcilerOptions{})
			report, err := r.Sweep(context.Background(), time.Now())
			if err != nil {
				fail("sweep failed: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Timed out: %d, stale step events: %d, deleted: %d, retry candidates: %d\n",
				len(report.TimedOut), len(report.StaleStepEvents), len(report.Deleted), len(report.RetryCandidates))
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := cmd.Flags().GetString("port")
			store := initStore(cmd)
			defer store.Close()
			if err := internal_http.StartServer(port, store); err != nil {
				fail("server stopped: %v", err)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port for the admin HTTP server")

	rootCmd.AddCommand(listCmd, getCmd, resultCmd, eventsCmd, cancelCmd, pauseCmd, resumeCmd, reconcileCmd, serveCmd)
}

func adminService(cmd *cobra.Command) *service.AdminService {
	return service.NewAdminService(initStore(cmd))
}

func initStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		fail("error retrieving db flag: %v", err)
	}
	store, err := internal_storage.NewPostgresStore(dbConnStr)
	if err != nil {
		fail("failed to initialize store: %v", err)
	}
	return store
}

func fail(format string, args ...interface{}) {
	log.GetLogger().Errorf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
