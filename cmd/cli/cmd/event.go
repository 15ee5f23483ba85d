package cmd

import (
	"fmt"
	"strings"

	"gridplane/pkg/workflow"

	"github.com/spf13/cobra"
)

// registerEventFlags adds the shared event flags used by the commands that
// simulate or deliver a repository event.
func registerEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("event", "push", "event kind: push or pull_request")
	cmd.Flags().String("branch", "", "pushed branch (push) or target branch (pull_request)")
	cmd.Flags().String("head", "", "source branch for pull_request events")
	cmd.Flags().String("sha", "", "commit to check out")
}

// eventFromFlags builds a workflow event from the command's flags.
func eventFromFlags(cmd *cobra.Command) (workflow.Event, error) {
	name, _ := cmd.Flags().GetString("event")
	branch, _ := cmd.Flags().GetString("branch")
	head, _ := cmd.Flags().GetString("head")
	sha, _ := cmd.Flags().GetString("sha")

	event := workflow.Event{CommitSHA: sha}
	switch name {
	case workflow.EventPush:
		event.Name = workflow.EventPush
		if branch != "" {
			event.Ref = "refs/heads/" + strings.TrimPrefix(branch, "refs/heads/")
		}
	case workflow.EventPullRequest:
		event.Name = workflow.EventPullRequest
		event.BaseRef = branch
		event.HeadRef = head
	default:
		return workflow.Event{}, fmt.Errorf("unknown event %q (want push or pull_request)", name)
	}

	return event, nil
}
