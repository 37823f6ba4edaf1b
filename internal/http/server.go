package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/internal/log"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/service"
)

// StartServer wires the engine's HTTP surface: health, the engagement
// webhook, and the administrative lifecycle triggers.
func StartServer(port string, svc *service.WorkflowService, proc *service.EventProcessor) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/webhook/engagement", EngagementWebhookHandler(proc))
	mux.HandleFunc("/contacts/", ContactActionHandler(svc))
	mux.HandleFunc("/instances", InstancesHandler(svc))

	log.GetLogger().Infof("Starting drip engine server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "drip engine is running")
}

// EngagementWebhookHandler decodes a delivery-provider callback and hands it
// to the event processor. Providers retry on non-2xx, so only malformed
// payloads are rejected; processing failures inside the processor are logged
// there and acknowledged here.
func EngagementWebhookHandler(proc *service.EventProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var ev models.EngagementEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			log.GetLogger().Errorf("Failed to decode engagement event: %v", err)
			http.Error(w, "Invalid event payload", http.StatusBadRequest)
			return
		}
		if err := proc.Handle(r.Context(), ev); err != nil {
			log.GetLogger().Errorf("Rejected engagement event for delivery %s: %v", ev.DeliveryID, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type contactActionRequest struct {
	ContactID  string `json:"contact_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ContactActionHandler serves POST /contacts/{start,stop,pause,resume}. The
// error taxonomy is surfaced verbatim so operator tooling renders precise
// messages.
func ContactActionHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req contactActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
		if req.ContactID == "" {
			http.Error(w, "Missing 'contact_id'", http.StatusBadRequest)
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = models.ReasonManual
		}

		switch r.URL.Path {
		case "/contacts/start":
			wi, err := svc.Start(r.Context(), req.ContactID, req.WorkflowID)
			if err != nil {
				writeActionError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			if encErr := json.NewEncoder(w).Encode(wi); encErr != nil {
				log.GetLogger().Errorf("Failed to encode instance response: %v", encErr)
			}
		case "/contacts/stop":
			respondAction(w, svc.Stop(r.Context(), req.ContactID, reason))
		case "/contacts/pause":
			respondAction(w, svc.Pause(r.Context(), req.ContactID, reason))
		case "/contacts/resume":
			respondAction(w, svc.Resume(r.Context(), req.ContactID))
		default:
			http.Error(w, "Unknown action", http.StatusNotFound)
		}
	}
}

func respondAction(w http.ResponseWriter, err error) {
	if err != nil {
		writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, service.ErrEntryConditionsNotMet):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrMissingChannel):
		status = http.StatusUnprocessableEntity
	case service.IsTransportError(err):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

// InstancesHandler lists workflow instances for the admin surface.
func InstancesHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		instances, err := svc.ListInstances()
		if err != nil {
			log.GetLogger().Errorf("Failed to list instances: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list instances: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(instances); err != nil {
			log.GetLogger().Errorf("Failed to encode instances: %v", err)
		}
	}
}
