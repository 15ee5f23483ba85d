package workflow

import (
	"path"
	"strings"
)

// Event names a workflow can subscribe to.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Event captures the repository event that may trigger a run.
type Event struct {
	// Name is the event kind: "push" or "pull_request".
	Name string `json:"name"`

	// Ref is the git ref for push events, e.g. "refs/heads/master".
	Ref string `json:"ref,omitempty"`

	// BaseRef is the target branch for pull_request events.
	BaseRef string `json:"base_ref,omitempty"`

	// HeadRef is the source branch for pull_request events.
	HeadRef string `json:"head_ref,omitempty"`

	// CommitSHA is the commit the run should check out.
	CommitSHA string `json:"commit_sha,omitempty"`
}

// Branch returns the branch the trigger rules are matched against: the
// pushed branch for push events, the target branch for pull requests.
func (e Event) Branch() string {
	switch e.Name {
	case EventPush:
		return strings.TrimPrefix(e.Ref, "refs/heads/")
	case EventPullRequest:
		return strings.TrimPrefix(e.BaseRef, "refs/heads/")
	}
	return ""
}

// Triggers is the "on" block of a workflow. A nil rule means the workflow
// does not subscribe to that event kind.
type Triggers struct {
	Push        *TriggerRule `yaml:"push"`
	PullRequest *TriggerRule `yaml:"pull_request"`
}

// TriggerRule filters one event kind. An empty branch list matches every
// branch; patterns may use path.Match globs ("release/*").
type TriggerRule struct {
	Branches []string `yaml:"branches"`
}

// Matches reports whether the event should start a run of this workflow.
func (t Triggers) Matches(event Event) bool {
	var rule *TriggerRule
	switch event.Name {
	case EventPush:
		rule = t.Push
	case EventPullRequest:
		rule = t.PullRequest
	default:
		return false
	}

	if rule == nil {
		return false
	}

	return rule.matchesBranch(event.Branch())
}

func (r *TriggerRule) matchesBranch(branch string) bool {
	if len(r.Branches) == 0 {
		return branch != ""
	}

	for _, pattern := range r.Branches {
		if pattern == branch {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if ok, err := path.Match(pattern, branch); err == nil && ok {
				return true
			}
		}
	}

	return false
}
