package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetcommand/pkg/command"
	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/journal"
	"fleetcommand/pkg/store"
	"fleetcommand/pkg/travel"
	"fleetcommand/pkg/types"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middlewareCORS)
	r.Use(middlewareSecurity)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handleStatus)
		r.Get("/formations", handleFormations)

		r.Get("/fleets", handleListFleets)
		r.Post("/fleets", handleInitFleet)
		r.Route("/fleets/{fleetID}", func(r chi.Router) {
			r.Get("/", handleFleetStatus)
			r.Delete("/", handleRemoveFleet)
			r.Get("/state", handleFleetState)
			r.Post("/orders", handleIssueOrder)
			r.Delete("/orders/{orderID}", handleCancelOrder)
			r.Post("/formation", handleSetFormation)
			r.Post("/history/cleanup", handleCleanupHistory)
		})

		r.Get("/engagements", handleListEngagements)
		r.Post("/engagements", handleStartEngagement)
		r.Get("/engagements/{engagementID}", handleGetEngagement)
		r.Delete("/engagements/{engagementID}", handleEndEngagement)
		r.Get("/summaries", handleSummaries)

		r.Get("/events", handleEvents)
		r.Get("/ledger", handleLedger)

		r.Get("/systems", handleSystems)
		r.Post("/systems", handleChartSystem)
	})
	return r
}

func fleetParam(r *http.Request) types.FleetID {
	return types.FleetID(chi.URLParam(r, "fleetID"))
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryUint(r *http.Request, key string) uint64 {
	n, _ := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	return n
}

// --- Status ---

func handleStatus(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	st := ServerStatus{
		Tick:    fleetCmd.Ticks(),
		Clock:   fleetCmd.Clock(),
		Fleets:  len(fleetCmd.FleetIDs()),
		Engaged: len(fleetCmd.Engagements()),
	}
	if l := fleetCmd.Ledger(); l != nil {
		st.LedgerHead = l.Head()
	}
	stateLock.Unlock()
	if db != nil {
		st.Driver = db.Driver()
	}
	jsonOK(w, st)
}

func handleFormations(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	defer stateLock.Unlock()
	cat := fleetCmd.Catalog()
	out := make([]formation.Template, 0)
	for _, id := range cat.IDs() {
		if t, ok := cat.Lookup(id); ok {
			out = append(out, t)
		}
	}
	jsonOK(w, out)
}

// --- Fleets ---

func handleListFleets(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	defer stateLock.Unlock()
	out := make([]command.StatusSnapshot, 0)
	for _, id := range fleetCmd.FleetIDs() {
		st, err := fleetCmd.GetFleetTacticalStatus(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	jsonOK(w, out)
}

func handleInitFleet(w http.ResponseWriter, r *http.Request) {
	var req InitFleetRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	stateLock.Lock()
	fs, err := fleetCmd.InitializeFleetCommand(req.Fleet, req.Empire)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	InfoLog.Printf("command: fleet %s under tactical command (%d ships)", fs.FleetID, fs.Capability.ShipCount)
	jsonCreated(w, fs)
}

func handleFleetStatus(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	st, err := fleetCmd.GetFleetTacticalStatus(fleetParam(r))
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	jsonOK(w, st)
}

func handleFleetState(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	fs, ok := fleetCmd.Fleet(fleetParam(r))
	stateLock.Unlock()
	if !ok {
		commandError(w, command.ErrUnknownFleet)
		return
	}
	jsonOK(w, fs)
}

func handleRemoveFleet(w http.ResponseWriter, r *http.Request) {
	id := fleetParam(r)
	stateLock.Lock()
	err := fleetCmd.RemoveFleet(id)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	InfoLog.Printf("command: fleet %s released", id)
	w.WriteHeader(http.StatusNoContent)
}

func handleIssueOrder(w http.ResponseWriter, r *http.Request) {
	var req IssueOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	priority := types.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}
	var opts []command.OrderOption
	if len(req.Preconditions) > 0 {
		opts = append(opts, command.WithPreconditions(req.Preconditions...))
	}
	if req.Repeating {
		opts = append(opts, command.Repeating(req.MaxRepeats))
	}

	stateLock.Lock()
	id, err := fleetCmd.IssueOrder(fleetParam(r), req.Type, req.Parameters, req.Target, priority, opts...)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	jsonCreated(w, IssueOrderResponse{OrderID: id})
}

func handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	err := fleetCmd.CancelOrder(fleetParam(r), types.OrderID(chi.URLParam(r, "orderID")))
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleSetFormation(w http.ResponseWriter, r *http.Request) {
	var req FormationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	stateLock.Lock()
	err := fleetCmd.SetFormation(fleetParam(r), req.TemplateID)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleCleanupHistory(w http.ResponseWriter, r *http.Request) {
	before, err := strconv.ParseFloat(r.URL.Query().Get("before"), 64)
	if err != nil {
		jsonError(w, "before: sim time required", http.StatusBadRequest)
		return
	}
	stateLock.Lock()
	n, err := fleetCmd.CleanupHistory(fleetParam(r), before)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	jsonOK(w, CleanupResponse{Removed: n})
}

// --- Combat ---

func handleListEngagements(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	defer stateLock.Unlock()
	jsonOK(w, fleetCmd.Engagements())
}

func handleStartEngagement(w http.ResponseWriter, r *http.Request) {
	var req EngagementRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	stateLock.Lock()
	id, err := fleetCmd.StartCombatEngagement(req.Attackers, req.Defenders, req.SystemID)
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	InfoLog.Printf("combat: engagement %s opened in %s", id, req.SystemID)
	jsonCreated(w, EngagementResponse{EngagementID: id})
}

func handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	id := types.EngagementID(chi.URLParam(r, "engagementID"))
	stateLock.Lock()
	defer stateLock.Unlock()
	if e, ok := fleetCmd.Engagement(id); ok {
		jsonOK(w, e)
		return
	}
	if s, ok := fleetCmd.Summary(id); ok {
		jsonOK(w, s)
		return
	}
	jsonError(w, "unknown engagement", http.StatusNotFound)
}

func handleEndEngagement(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	summary, err := fleetCmd.EndCombatEngagement(types.EngagementID(chi.URLParam(r, "engagementID")))
	stateLock.Unlock()
	if err != nil {
		commandError(w, err)
		return
	}
	jsonOK(w, summary)
}

func handleSummaries(w http.ResponseWriter, r *http.Request) {
	stateLock.Lock()
	defer stateLock.Unlock()
	jsonOK(w, fleetCmd.Summaries())
}

// --- Persistence ---

func handleEvents(w http.ResponseWriter, r *http.Request) {
	if db == nil {
		jsonError(w, "no store configured", http.StatusServiceUnavailable)
		return
	}
	fleet := types.FleetID(r.URL.Query().Get("fleet"))
	events, err := db.ListEvents(queryUint(r, "after"), fleet, queryInt(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.EventRecord{}
	}
	jsonOK(w, events)
}

func handleLedger(w http.ResponseWriter, r *http.Request) {
	if db == nil {
		jsonError(w, "no store configured", http.StatusServiceUnavailable)
		return
	}
	entries, err := db.LedgerEntries(queryUint(r, "from"), queryInt(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	jsonOK(w, entries)
}

func handleSystems(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, chart.Systems())
}

func handleChartSystem(w http.ResponseWriter, r *http.Request) {
	var sys travel.System
	if err := decodeJSON(r, &sys); err != nil {
		jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if sys.ID == "" {
		jsonError(w, "system id required", http.StatusBadRequest)
		return
	}
	if db != nil {
		if err := db.UpsertSystem(sys); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	chart.Chart(sys)
	InfoLog.Printf("travel: charted %s at %d,%d,%d", sys.ID, sys.X, sys.Y, sys.Z)
	jsonCreated(w, sys)
}
