package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/nidhogg/pastoralscape/internal/orchestrator"
)

type fakeEvents map[string][]*orchestrator.RunEvent

func (f fakeEvents) History(_ context.Context, runID string) ([]*orchestrator.RunEvent, error) {
	return f[runID], nil
}

type fakeNetwork struct{}

func (fakeNetwork) Neighbours(_ context.Context, runID string, agentID int) ([]int, error) {
	if runID == "r1" && agentID == 2 {
		return []int{1, 3}, nil
	}
	return nil, nil
}

func (fakeNetwork) Adoption(_ context.Context, runID string) (map[string]map[string]int, error) {
	if runID != "r1" {
		return map[string]map[string]int{}, nil
	}
	return map[string]map[string]int{"booster": {"booster_protected": 2, "booster_lapsed": 1}}, nil
}

func TestNetworkRoutesUnconfigured(t *testing.T) {
	_, _, router := newTestHandler(t, nil)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, path := range []string{"/api/runs/r1/events", "/api/runs/r1/adoption", "/api/runs/r1/agents/2/neighbours"} {
		resp := getJSON(t, ts, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
}

func TestRunEvents(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	h.SetEvents(fakeEvents{"r1": {
		{RunID: "r1", Type: orchestrator.EventStarted},
		{RunID: "r1", Type: orchestrator.EventCompleted, Epochs: 3},
	}})
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/runs/r1/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var events []orchestrator.RunEvent
	decodeJSON(t, resp, &events)
	if len(events) != 2 || events[1].Type != orchestrator.EventCompleted || events[1].Epochs != 3 {
		t.Errorf("events = %+v", events)
	}

	resp = getJSON(t, ts, "/api/runs/other/events")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: expected 404, got %d", resp.StatusCode)
	}
}

func TestHouseholdNetwork(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	h.SetNetwork(fakeNetwork{})
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/runs/r1/adoption")
	var adoption map[string]map[string]int
	decodeJSON(t, resp, &adoption)
	if adoption["booster"]["booster_protected"] != 2 {
		t.Errorf("adoption = %+v", adoption)
	}

	resp = getJSON(t, ts, "/api/runs/r1/agents/2/neighbours")
	var ids []int
	decodeJSON(t, resp, &ids)
	if !reflect.DeepEqual(ids, []int{1, 3}) {
		t.Errorf("neighbours = %v, want [1 3]", ids)
	}

	resp = getJSON(t, ts, "/api/runs/r1/agents/9/neighbours")
	ids = nil
	decodeJSON(t, resp, &ids)
	if ids == nil || len(ids) != 0 {
		t.Errorf("isolated household: got %v, want []", ids)
	}

	for path, want := range map[string]int{
		"/api/runs/r1/agents/x/neighbours": http.StatusBadRequest,
		"/api/runs/r2/adoption":            http.StatusNotFound,
	} {
		resp := getJSON(t, ts, path)
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}
