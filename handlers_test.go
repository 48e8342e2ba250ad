package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"fleetcommand/pkg/command"
	"fleetcommand/pkg/config"
	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/store"
	"fleetcommand/pkg/travel"
	"fleetcommand/pkg/types"
)

// setupTestEnv wires the server globals onto an in-memory database.
func setupTestEnv(t *testing.T) {
	t.Helper()
	InfoLog = log.New(io.Discard, "", 0)
	ErrorLog = log.New(io.Discard, "", 0)

	cfg = config.Defaults()
	cfg.Web.RateLimit, cfg.Web.RateBurst = 1000, 1000
	cfg.Sim.SnapshotEvery = 0
	cfg.Systems = []travel.System{
		{ID: "sol", Name: "Sol", Cluster: "core"},
		{ID: "vega", Name: "Vega", Z: 10, Lane: true},
	}
	ipLock.Lock()
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock.Unlock()

	var err error
	db, err = store.Open(store.Config{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		db = nil
	})
	if err := initCommand(); err != nil {
		t.Fatalf("initCommand: %v", err)
	}
}

// Helper to make JSON requests
func executeRequest(handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req, _ := http.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:5000"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func initFleet(t *testing.T, h http.Handler, id types.FleetID, ships int, pos types.Vector3) {
	t.Helper()
	ids := make([]string, ships)
	for i := range ids {
		ids[i] = string(id) + "-" + string(rune('a'+i))
	}
	rr := executeRequest(h, "POST", "/api/fleets", InitFleetRequest{
		Fleet:  types.FleetSnapshot{FleetID: id, ShipIDs: ids, Position: pos, SystemID: "sol"},
		Empire: types.EmpireContext{EmpireID: "terra"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("init %s: code %d, body %s", id, rr.Code, rr.Body.String())
	}
}

func TestFleetLifecycle(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()
	initFleet(t, h, "alpha", 6, types.Vector3{})

	rr := executeRequest(h, "POST", "/api/fleets", InitFleetRequest{Fleet: types.FleetSnapshot{FleetID: "alpha"}})
	if rr.Code != http.StatusConflict {
		t.Errorf("Duplicate fleet accepted. Code: %d", rr.Code)
	}

	rr = executeRequest(h, "GET", "/api/fleets/alpha", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status failed: %s", rr.Body.String())
	}
	var st command.StatusSnapshot
	decodeBody(t, rr, &st)
	if st.FleetID != "alpha" || st.FlagshipID != "alpha-a" || st.Combat.Ships != 6 {
		t.Errorf("unexpected status: %+v", st)
	}

	rr = executeRequest(h, "GET", "/api/fleets", nil)
	var all []command.StatusSnapshot
	decodeBody(t, rr, &all)
	if len(all) != 1 {
		t.Errorf("fleet list: %d entries", len(all))
	}

	if rr := executeRequest(h, "DELETE", "/api/fleets/alpha", nil); rr.Code != http.StatusNoContent {
		t.Errorf("remove: code %d", rr.Code)
	}
	if rr := executeRequest(h, "GET", "/api/fleets/alpha", nil); rr.Code != http.StatusNotFound {
		t.Errorf("removed fleet still visible. Code: %d", rr.Code)
	}
}

func TestIssueOrderRunsOnTick(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()
	initFleet(t, h, "alpha", 4, types.Vector3{})

	rr := executeRequest(h, "POST", "/api/fleets/alpha/orders", IssueOrderRequest{
		Type:   types.OrderMoveTo,
		Target: types.OrderTarget{Position: &types.Vector3{X: 500}},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue failed: %d %s", rr.Code, rr.Body.String())
	}
	var issued IssueOrderResponse
	decodeBody(t, rr, &issued)
	if issued.OrderID == "" {
		t.Fatal("no order id returned")
	}

	tickWorld()
	tickWorld()

	rr = executeRequest(h, "GET", "/api/fleets/alpha/state", nil)
	var fs types.FleetCommandState
	decodeBody(t, rr, &fs)
	if fs.ActiveOrder != nil || len(fs.History) != 1 || fs.History[0].Status != types.StatusCompleted {
		t.Fatalf("move should have completed: active %+v history %+v", fs.ActiveOrder, fs.History)
	}
	if fs.Position.X != 500 {
		t.Errorf("fleet at %+v, want X=500", fs.Position)
	}

	rr = executeRequest(h, "GET", "/api/events?fleet=alpha", nil)
	var events []store.EventRecord
	decodeBody(t, rr, &events)
	var orderEvents []types.EventType
	for _, ev := range events {
		if ev.Kind == types.KindOrder {
			orderEvents = append(orderEvents, ev.Type)
		}
	}
	if len(orderEvents) != 3 || orderEvents[2] != types.EventOrderCompleted {
		t.Errorf("persisted order events: %v", orderEvents)
	}

	rr = executeRequest(h, "GET", "/api/ledger", nil)
	var entries []journal.Entry
	decodeBody(t, rr, &entries)
	if len(entries) != 2 {
		t.Fatalf("ledger rows: %d", len(entries))
	}
	if err := journal.Verify(entries); err != nil {
		t.Errorf("persisted ledger: %v", err)
	}

	rr = executeRequest(h, "POST", "/api/fleets/alpha/history/cleanup?before=1000", nil)
	var cleaned CleanupResponse
	decodeBody(t, rr, &cleaned)
	if cleaned.Removed != 1 {
		t.Errorf("cleanup removed %d", cleaned.Removed)
	}
}

func TestOrderRejections(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()
	initFleet(t, h, "alpha", 4, types.Vector3{})

	cases := []struct {
		name    string
		path    string
		payload any
		code    int
	}{
		{"unknownFleet", "/api/fleets/ghost/orders", IssueOrderRequest{Type: types.OrderSurvey}, http.StatusNotFound},
		{"unknownType", "/api/fleets/alpha/orders", IssueOrderRequest{Type: "BOMBARD"}, http.StatusUnprocessableEntity},
		{"missingTarget", "/api/fleets/alpha/orders", IssueOrderRequest{Type: types.OrderAttack}, http.StatusUnprocessableEntity},
		{"unknownField", "/api/fleets/alpha/orders", map[string]any{"order_type": "SURVEY", "bogus": 1}, http.StatusBadRequest},
		{"badPriority", "/api/fleets/alpha/orders", map[string]any{"order_type": "SURVEY", "priority": "URGENT"}, http.StatusBadRequest},
		{"unknownFormation", "/api/fleets/alpha/formation", FormationRequest{TemplateID: "phalanx"}, http.StatusUnprocessableEntity},
		{"tooFewShips", "/api/fleets/alpha/formation", FormationRequest{TemplateID: "battle_line"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := executeRequest(h, "POST", tc.path, tc.payload)
			if rr.Code != tc.code {
				t.Errorf("code %d, want %d (%s)", rr.Code, tc.code, rr.Body.String())
			}
		})
	}

	if rr := executeRequest(h, "DELETE", "/api/fleets/alpha/orders/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("cancel unknown order: code %d", rr.Code)
	}
}

func TestEngagementEndpoints(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()
	initFleet(t, h, "red", 6, types.Vector3{})
	initFleet(t, h, "blue", 6, types.Vector3{X: 100})

	rr := executeRequest(h, "POST", "/api/engagements", EngagementRequest{
		Attackers: []types.FleetID{"red"}, Defenders: []types.FleetID{"blue"}, SystemID: "sol",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	var started EngagementResponse
	decodeBody(t, rr, &started)

	rr = executeRequest(h, "POST", "/api/engagements", EngagementRequest{
		Attackers: []types.FleetID{"red"}, Defenders: []types.FleetID{"blue"}, SystemID: "sol",
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("second engagement for busy fleets: code %d", rr.Code)
	}

	tickWorld()
	path := "/api/engagements/" + string(started.EngagementID)
	if rr := executeRequest(h, "GET", path, nil); rr.Code != http.StatusOK {
		t.Fatalf("get engagement: %d", rr.Code)
	}

	rr = executeRequest(h, "DELETE", path, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("end: %d %s", rr.Code, rr.Body.String())
	}
	var summary types.EngagementSummary
	decodeBody(t, rr, &summary)
	if summary.EngagementID != started.EngagementID || summary.Rounds < 1 {
		t.Errorf("summary %+v", summary)
	}

	if rr := executeRequest(h, "GET", path, nil); rr.Code != http.StatusOK {
		t.Errorf("ended engagement should still report its summary: %d", rr.Code)
	}
	if rr := executeRequest(h, "DELETE", path, nil); rr.Code != http.StatusNotFound {
		t.Errorf("ending twice: code %d", rr.Code)
	}
	if rr := executeRequest(h, "GET", "/api/engagements/none", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown engagement: code %d", rr.Code)
	}
}

func TestSnapshotRestoresOnBoot(t *testing.T) {
	setupTestEnv(t)
	cfg.Sim.SnapshotEvery = 3
	h := newRouter()
	initFleet(t, h, "alpha", 4, types.Vector3{})
	executeRequest(h, "POST", "/api/fleets/alpha/orders", IssueOrderRequest{
		Type: types.OrderSurvey,
	})
	for i := 0; i < 3; i++ {
		tickWorld()
	}
	head := fleetCmd.Ledger().Head()
	before, _ := fleetCmd.GetFleetTacticalStatus("alpha")

	if err := initCommand(); err != nil {
		t.Fatalf("reboot: %v", err)
	}
	if fleetCmd.Ticks() != 3 || fleetCmd.Ledger().Head() != head {
		t.Fatalf("restored tick %d head %s, want 3 %s", fleetCmd.Ticks(), fleetCmd.Ledger().Head(), head)
	}
	after, err := fleetCmd.GetFleetTacticalStatus("alpha")
	if err != nil {
		t.Fatalf("restored fleet: %v", err)
	}
	if after.ActiveOrder == nil || after.ActiveOrder.ID != before.ActiveOrder.ID {
		t.Errorf("active order lost across restore: %+v", after.ActiveOrder)
	}
}

func TestSystemsChart(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()

	rr := executeRequest(h, "POST", "/api/systems", travel.System{ID: "rigel", Name: "Rigel", X: 40})
	if rr.Code != http.StatusCreated {
		t.Fatalf("chart: %d %s", rr.Code, rr.Body.String())
	}
	if rr := executeRequest(h, "POST", "/api/systems", travel.System{Name: "Nameless"}); rr.Code != http.StatusBadRequest {
		t.Errorf("system without id: code %d", rr.Code)
	}

	rr = executeRequest(h, "GET", "/api/systems", nil)
	var systems []travel.System
	decodeBody(t, rr, &systems)
	if len(systems) != 3 || systems[0].ID != "rigel" {
		t.Errorf("systems: %+v", systems)
	}
	stored, _ := db.Systems()
	if len(stored) != 3 {
		t.Errorf("stored systems: %d", len(stored))
	}
}

func TestMiddleware(t *testing.T) {
	setupTestEnv(t)
	h := newRouter()

	req, _ := http.NewRequest("POST", "/api/fleets", bytes.NewBufferString("<xml/>"))
	req.Header.Set("Content-Type", "application/xml")
	req.RemoteAddr = "10.0.0.2:5000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("xml body accepted. Code: %d", rr.Code)
	}

	rr = executeRequest(h, "OPTIONS", "/api/fleets", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: %d %v", rr.Code, rr.Header())
	}

	cfg.Web.RateLimit, cfg.Web.RateBurst = 1, 2
	ipLock.Lock()
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock.Unlock()
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, executeRequest(h, "GET", "/api/status", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("rate limiting: %v", codes)
	}
}
