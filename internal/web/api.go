package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/remote"
	"github.com/mtzanidakis/maestros/internal/runtime"
	"github.com/mtzanidakis/maestros/internal/schedule"
	"github.com/mtzanidakis/maestros/internal/store"
	"github.com/mtzanidakis/maestros/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Workflows
	mux.HandleFunc("POST /api/workflows", s.submitWorkflow)
	mux.HandleFunc("GET /api/workflows", s.listWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.getWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/cancel", s.cancelWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.deleteWorkflow)

	// Specialists and their containers
	mux.HandleFunc("GET /api/specialists", s.listSpecialists)
	mux.HandleFunc("POST /api/specialists/{name}/start", s.startSpecialist)
	mux.HandleFunc("POST /api/specialists/{name}/stop", s.stopSpecialist)
	mux.HandleFunc("GET /api/agents", s.listRunningAgents)

	// Peer directory
	mux.HandleFunc("GET /api/peers", s.listPeers)
	mux.HandleFunc("GET /api/peers/{name}/links", s.getPeerLinks)

	// Scheduled tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

type submitRequest struct {
	Task         string   `json:"task"`
	WorkflowType string   `json:"workflow_type"`
	Participants []string `json:"participants,omitempty"`
}

func (s *Server) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wfType, err := workflow.ParseType(req.WorkflowType)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.tracker.Submit(r.Context(), req.Task, wfType, req.Participants)
	if err != nil {
		// Submission errors are configuration errors: bad participants,
		// empty task, empty registry.
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	jsonResponse(w, map[string]string{"id": id, "status": string(workflow.StatusPending)})
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	execs, err := s.tracker.List(r.URL.Query().Get("status"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if execs == nil {
		execs = []*workflow.Execution{}
	}
	jsonResponse(w, execs)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := s.tracker.Status(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exec == nil {
		jsonError(w, "execution not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, exec)
}

func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.tracker.Cancel(id) {
		jsonError(w, "execution not cancellable", http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"id": id, "status": "cancelling"})
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExecution(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSpecialists(w http.ResponseWriter, r *http.Request) {
	running := map[string]bool{}
	if s.runtime != nil {
		for _, c := range s.runtime.ListRunning() {
			running[c.Specialist] = true
		}
	}

	out := make([]map[string]any, 0, s.registry.Len())
	for _, sp := range s.registry.List() {
		entry := map[string]any{
			"name":         sp.Name,
			"role":         sp.Role,
			"capabilities": sp.Capabilities,
			"model":        sp.Config.Model,
		}
		if ep, ok := s.peers.Resolve(sp.Name); ok {
			entry["endpoint"] = ep
		}
		def, hasDef := s.defs[sp.Name]
		entry["remote"] = hasDef && def.Remote
		if def.Remote {
			status := "stopped"
			if running[sp.Name] {
				status = "running"
			}
			entry["container_status"] = status
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) startSpecialist(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		jsonError(w, "container runtime not available", http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("name")
	def, ok := s.defs[name]
	if !ok {
		jsonError(w, "unknown specialist", http.StatusNotFound)
		return
	}
	ep, ok := s.peers.Resolve(name)
	if !ok {
		jsonError(w, "specialist has no endpoint", http.StatusConflict)
		return
	}

	env := def.Env
	if s.secrets != nil {
		resolved, err := s.secrets.ResolveEnv(def.Env)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		env = resolved
	}

	info, err := s.runtime.StartSpecialist(r.Context(), runtime.SpecialistOpts{
		Name:     name,
		Endpoint: ep,
		NATSUrl:  s.bus.ClientURL(),
		Env:      env,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, info)
}

func (s *Server) stopSpecialist(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		jsonError(w, "container runtime not available", http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("name")
	// Ask the agent to drain before the container is stopped. Best-effort:
	// a dead agent cannot answer anyway.
	if s.nats != nil {
		err := s.nats.PublishJSON(natsbus.TopicSpecialistControl(name), remote.ControlCommand{Command: "shutdown"})
		if err != nil {
			slog.Warn("shutdown signal failed", "specialist", name, "error", err)
		}
	}

	if err := s.runtime.StopSpecialist(r.Context(), name); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "stopped"})
}

func (s *Server) listRunningAgents(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		jsonResponse(w, []runtime.ContainerInfo{})
		return
	}
	jsonResponse(w, s.runtime.ListRunning())
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.peers.Plan())
}

func (s *Server) getPeerLinks(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.peers.Resolve(name); !ok {
		jsonError(w, "unknown agent", http.StatusNotFound)
		return
	}
	links := s.peers.LinksOf(name)
	if links == nil {
		links = []string{}
	}
	jsonResponse(w, map[string]any{"agent_id": name, "links": links})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, map[string]any{
			"id":            t.ID,
			"name":          t.Name,
			"schedule":      t.Schedule,
			"schedule_text": schedule.Describe(t.Schedule),
			"task":          t.Task,
			"workflow_type": t.WorkflowType,
			"participants":  t.Participants,
			"status":        t.Status,
			"next_run_at":   t.NextRunAt,
			"last_run_at":   t.LastRunAt,
			"last_status":   t.LastStatus,
			"last_error":    t.LastError,
		})
	}
	jsonResponse(w, out)
}

type taskRequest struct {
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Task         string `json:"task"`
	WorkflowType string `json:"workflow_type"`
	Participants string `json:"participants,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Task == "" {
		jsonError(w, "name and task are required", http.StatusBadRequest)
		return
	}
	if _, err := workflow.ParseType(req.WorkflowType); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(req.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	task := &store.ScheduledTask{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Schedule:     normalized,
		Task:         req.Task,
		WorkflowType: req.WorkflowType,
		Participants: req.Participants,
		Status:       "active",
		NextRunAt:    schedule.NextRun(normalized),
	}
	if err := s.store.SaveTask(task); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	jsonResponse(w, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Task != "" {
		existing.Task = req.Task
	}
	if req.WorkflowType != "" {
		if _, err := workflow.ParseType(req.WorkflowType); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		existing.WorkflowType = req.WorkflowType
	}
	if req.Participants != "" {
		existing.Participants = req.Participants
	}
	if req.Status != "" {
		existing.Status = req.Status
	}
	if req.Schedule != "" {
		normalized, err := schedule.Normalize(req.Schedule)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
		existing.NextRunAt = schedule.NextRun(normalized)
	}

	if err := s.store.SaveTask(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, existing)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.secrets.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	if err := s.secrets.Set(req.Name, req.Description, req.Value); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	jsonResponse(w, map[string]string{"name": req.Name})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountExecutionsByStatus()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := map[string]any{
		"version":     s.version,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"specialists": s.registry.Len(),
		"peers":       len(s.peers.Plan()),
		"executions":  counts,
		"router": map[string]string{
			"strategy": "keyword",
		},
	}
	if s.runtime != nil {
		status["containers"] = s.runtime.ActiveCount()
	}
	jsonResponse(w, status)
}
