package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"gridplane/pkg/api"
	"gridplane/pkg/workflow"
)

func referenceWorkflow(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../../pkg/workflow/testdata/simulator-ci.yaml")
	if err != nil {
		t.Fatalf("failed to read workflow fixture: %v", err)
	}
	return string(data)
}

func postEvent(t *testing.T, h *Handlers, req api.TriggerRequest, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	if authed {
		r = requestWithProject(r, testProject())
	}

	rr := httptest.NewRecorder()
	h.HandleEvent(rr, r)
	return rr
}

func TestHandleEvent_PushToDefaultBranchStartsRun(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	rr := postEvent(t, h, api.TriggerRequest{
		Event: workflow.Event{
			Name:      workflow.EventPush,
			Ref:       "refs/heads/master",
			CommitSHA: "abc123",
		},
		Workflow: referenceWorkflow(t),
	}, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decodeBody[api.TriggerResponse](t, rr)
	if !resp.Triggered {
		t.Fatalf("expected triggered run, got reason %q", resp.Reason)
	}
	if resp.CellCount != 4 {
		t.Errorf("expected 4 cells, got %d", resp.CellCount)
	}

	if m.createdRun == nil {
		t.Fatal("expected run to be created")
	}
	if m.createdRun.WorkflowName != "test" {
		t.Errorf("expected workflow name 'test', got %q", m.createdRun.WorkflowName)
	}
	if m.createdRun.Branch != "master" {
		t.Errorf("expected branch master, got %q", m.createdRun.Branch)
	}
	if m.createdRun.CommitSHA != "abc123" {
		t.Errorf("expected commit sha abc123, got %q", m.createdRun.CommitSHA)
	}

	// Cross product in declaration order: os axis outermost.
	wantLabels := []string{
		"test (ubuntu-latest, 3.8)",
		"test (ubuntu-latest, 3.9)",
		"test (windows-latest, 3.8)",
		"test (windows-latest, 3.9)",
	}
	if len(m.createdCells) != len(wantLabels) {
		t.Fatalf("expected %d cells, got %d", len(wantLabels), len(m.createdCells))
	}
	for i, cell := range m.createdCells {
		if cell.Label != wantLabels[i] {
			t.Errorf("cell %d: expected label %q, got %q", i, wantLabels[i], cell.Label)
		}
		if cell.OSLabel != cell.Values["os"] {
			t.Errorf("cell %d: os label %q does not match os axis %q", i, cell.OSLabel, cell.Values["os"])
		}
	}

	// The single job has no needs, so every cell is enqueued immediately.
	if len(m.enqueuedCells) != 4 {
		t.Errorf("expected 4 enqueued cells, got %d", len(m.enqueuedCells))
	}
	if m.enqueuedOSLabels[0] != "ubuntu-latest" {
		t.Errorf("expected os label routing on queue entries, got %q", m.enqueuedOSLabels[0])
	}
}

func TestHandleEvent_PullRequestTargetingDefaultBranchTriggers(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	rr := postEvent(t, h, api.TriggerRequest{
		Event: workflow.Event{
			Name:    workflow.EventPullRequest,
			BaseRef: "master",
			HeadRef: "feature/sim-api",
		},
		Workflow: referenceWorkflow(t),
	}, true)

	resp := decodeBody[api.TriggerResponse](t, rr)
	if !resp.Triggered {
		t.Fatalf("expected pull_request against master to trigger, got %q", resp.Reason)
	}
}

func TestHandleEvent_NonDefaultBranchDoesNotTrigger(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	rr := postEvent(t, h, api.TriggerRequest{
		Event: workflow.Event{
			Name: workflow.EventPush,
			Ref:  "refs/heads/feature-branch",
		},
		Workflow: referenceWorkflow(t),
	}, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	resp := decodeBody[api.TriggerResponse](t, rr)
	if resp.Triggered {
		t.Error("expected no trigger for non-default branch")
	}
	if m.createdRun != nil {
		t.Error("expected no run to be created")
	}
	if len(m.enqueuedCells) != 0 {
		t.Error("expected nothing enqueued")
	}
}

func TestHandleEvent_InvalidWorkflow(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	rr := postEvent(t, h, api.TriggerRequest{
		Event:    workflow.Event{Name: workflow.EventPush, Ref: "refs/heads/master"},
		Workflow: "jobs: {broken",
	}, true)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid workflow, got %d", rr.Code)
	}
}

func TestHandleEvent_Unauthorized(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	rr := postEvent(t, h, api.TriggerRequest{
		Event:    workflow.Event{Name: workflow.EventPush, Ref: "refs/heads/master"},
		Workflow: referenceWorkflow(t),
	}, false)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without project, got %d", rr.Code)
	}
}

func TestHandleEvent_DependentJobsWaitForNeeds(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m)

	doc := `
name: chained
on:
  push:
    branches: [main]
jobs:
  build:
    steps:
      - name: compile
        run: make build
  deploy:
    needs: [build]
    steps:
      - name: ship
        run: make deploy
`

	rr := postEvent(t, h, api.TriggerRequest{
		Event:    workflow.Event{Name: workflow.EventPush, Ref: "refs/heads/main"},
		Workflow: doc,
	}, true)

	resp := decodeBody[api.TriggerResponse](t, rr)
	if !resp.Triggered {
		t.Fatalf("expected trigger, got %q", resp.Reason)
	}
	if resp.CellCount != 2 {
		t.Errorf("expected 2 cells, got %d", resp.CellCount)
	}

	// Only the needs-free job is scheduled up front.
	if len(m.enqueuedCells) != 1 {
		t.Fatalf("expected 1 enqueued cell, got %d", len(m.enqueuedCells))
	}
	if m.createdCells[0].JobName != "build" {
		t.Errorf("expected build cell first, got %q", m.createdCells[0].JobName)
	}
	if m.enqueuedCells[0] != m.createdCells[0].ID {
		t.Error("expected the build cell to be the enqueued one")
	}
}
