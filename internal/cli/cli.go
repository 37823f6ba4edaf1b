package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clahage/my-clever-crm-sub002/internal/log"
	internal_storage "github.com/clahage/my-clever-crm-sub002/internal/storage"
	"github.com/clahage/my-clever-crm-sub002/pkg/catalog"
	"github.com/clahage/my-clever-crm-sub002/pkg/service"
)

// SetupCLI registers the lifecycle management subcommands. These operate on
// instance state only; starting contacts and processing due stages need the
// fully wired daemon (render/send collaborators), so they live behind serve.
func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		Run: func(cmd *cobra.Command, args []string) {
			svc := newService(cmd)
			listInstances(svc)
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause [contact-id]",
		Short: "Pause a contact's active workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := newService(cmd)
			if err := svc.Pause(context.Background(), args[0], reasonFlag(cmd)); err != nil {
				fail("pause workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Paused workflow for contact %s\n", args[0])
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [contact-id]",
		Short: "Resume a contact's paused workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := newService(cmd)
			if err := svc.Resume(context.Background(), args[0]); err != nil {
				fail("resume workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Resumed workflow for contact %s\n", args[0])
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop [contact-id]",
		Short: "Stop a contact's workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc := newService(cmd)
			if err := svc.Stop(context.Background(), args[0], reasonFlag(cmd)); err != nil {
				fail("stop workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Stopped workflow for contact %s\n", args[0])
		},
	}
	pauseCmd.Flags().String("reason", "", "Reason recorded on the transition")
	stopCmd.Flags().String("reason", "", "Reason recorded on the transition")

	rootCmd.AddCommand(listCmd, pauseCmd, resumeCmd, stopCmd)
}

func reasonFlag(cmd *cobra.Command) string {
	reason, _ := cmd.Flags().GetString("reason")
	if reason == "" {
		return "manual"
	}
	return reason
}

func newService(cmd *cobra.Command) *service.WorkflowService {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	cat, err := catalog.Builtin()
	if err != nil {
		log.GetLogger().Errorf("Failed to load catalog: %v", err)
		os.Exit(1)
	}
	// No collaborators: the CLI only performs status transitions, which
	// touch the store alone.
	return service.NewWorkflowService(store, cat, service.Collaborators{}, nil, log.GetLogger())
}

func listInstances(svc *service.WorkflowService) {
	instances, err := svc.ListInstances()
	if err != nil {
		fail("list instances", err)
	}
	if len(instances) == 0 {
		fmt.Fprintf(os.Stdout, "No instances found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Instances:\n")
	for _, wi := range instances {
		due := "-"
		if wi.NextDueAt != nil {
			due = wi.NextDueAt.Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "- ID: %d, Contact: %s, Workflow: %s, Status: %s, Stage: %d/%d sent, Next due: %s\n",
			wi.ID, wi.ContactID, wi.WorkflowID, wi.Status, wi.CurrentStage, wi.MessagesSent, due)
	}
}

func fail(action string, err error) {
	log.GetLogger().Errorf("Failed to %s: %v", action, err)
	fmt.Fprintf(os.Stderr, "Error: failed to %s: %v\n", action, err)
	os.Exit(1)
}
