package main

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"agentpact/pkg/db"
	"agentpact/pkg/domain"
	"agentpact/pkg/httpx"
	"agentpact/pkg/identity"
	"agentpact/services/coordinator/internal/budgetclient"
	"agentpact/services/coordinator/internal/coord"
	"agentpact/services/coordinator/internal/negotiationclient"
	"agentpact/services/coordinator/internal/reputationclient"
	"agentpact/services/coordinator/internal/settle"
	"agentpact/services/coordinator/internal/store"
)

func main() {
	var st store.Store
	if os.Getenv("PACT_STORE") == "memory" {
		st = store.NewMemory()
	} else {
		st = store.NewPG(db.MustConnect())
	}

	neg := negotiationclient.New(envOr("NEGOTIATION_BASE_URL", "http://localhost:8091"))
	budget := budgetclient.New(envOr("BUDGET_BASE_URL", "http://localhost:8092"))
	reputation := reputationclient.New(envOr("REPUTATION_BASE_URL", "http://localhost:8093"))

	c := &coord.Coordinator{
		Store:       st,
		Engine:      settle.New(st, budget, reputation),
		Negotiation: neg,
		Conflict:    neg,
		Policy:      neg.Policy(),
	}
	if os.Getenv("SIGNATURE_VERIFY") == "ed25519" {
		c.Verifier = identity.Verifier{}
	}

	port := envOr("SERVICE_PORT", "8090")
	log.Printf("coordinator listening on :%s", port)
	if err := http.ListenAndServe(":"+port, newRouter(c)); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRouter(c *coord.Coordinator) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/pact", func(api chi.Router) {

		api.Post("/negotiate", func(w http.ResponseWriter, r *http.Request) {
			var msg store.Message
			if err := httpx.ReadJSON(r, &msg); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			if msg.SessionID == "" {
				httpx.WriteError(w, 400, "MISSING_SESSION_ID", "session_id is required")
				return
			}
			sess, res, err := c.Negotiate(r.Context(), msg)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"session":    sess,
				"result":     res,
			})
		})

		api.Post("/messages:validate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Message store.Message  `json:"message"`
				Policy  map[string]any `json:"policy"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			ok, reason, err := c.ValidateMessage(r.Context(), req.Message, req.Policy)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"allowed":    ok,
				"reason":     reason,
			})
		})

		api.Post("/sessions/{session_id}/contract", func(w http.ResponseWriter, r *http.Request) {
			contract, err := c.CreateContract(r.Context(), chi.URLParam(r, "session_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"contract":   contract,
			})
		})

		api.Post("/contracts/{contract_id}/sign", func(w http.ResponseWriter, r *http.Request) {
			var sig domain.Signature
			if err := httpx.ReadJSON(r, &sig); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			if sig.AgentID == "" {
				httpx.WriteError(w, 400, "MISSING_AGENT_ID", "agent_id is required")
				return
			}
			contract, err := c.SignContract(r.Context(), chi.URLParam(r, "contract_id"), sig)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"contract":   contract,
			})
		})

		api.Post("/contracts/{contract_id}:commit", func(w http.ResponseWriter, r *http.Request) {
			contract, err := c.CommitContract(r.Context(), chi.URLParam(r, "contract_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"contract":   contract,
			})
		})

		api.Post("/contracts/{contract_id}:confirmExecution", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Outcomes []domain.ActualDeliverable `json:"outcomes"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			report, err := c.ConfirmExecution(r.Context(), chi.URLParam(r, "contract_id"), req.Outcomes)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"report":     report,
			})
		})

		api.Post("/sessions/{session_id}:resolveDispute", func(w http.ResponseWriter, r *http.Request) {
			var msg store.Message
			if err := httpx.ReadJSON(r, &msg); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			out, err := c.ResolveDispute(r.Context(), chi.URLParam(r, "session_id"), msg)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"resolution": out,
			})
		})

		api.Get("/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
			sess, err := c.GetSession(r.Context(), chi.URLParam(r, "session_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"session":    sess,
			})
		})

		api.Get("/contracts/{contract_id}", func(w http.ResponseWriter, r *http.Request) {
			contract, err := c.GetContract(r.Context(), chi.URLParam(r, "contract_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"contract":   contract,
			})
		})

		api.Get("/contracts/{contract_id}/settlement", func(w http.ResponseWriter, r *http.Request) {
			report, completed, err := c.GetSettlement(r.Context(), chi.URLParam(r, "contract_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"completed":  completed,
				"report":     report,
			})
		})
	})

	return r
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrContractNotFound):
		httpx.WriteError(w, 404, "CONTRACT_NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		httpx.WriteError(w, 404, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, coord.ErrSignatureRejected):
		httpx.WriteError(w, 403, "BAD_SIGNATURE", err.Error())
	case errors.Is(err, domain.ErrIncompleteSignatureSet):
		httpx.WriteError(w, 409, "INCOMPLETE_SIGNATURE_SET", err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		httpx.WriteError(w, 409, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, store.ErrAlreadySettled):
		httpx.WriteError(w, 409, "ALREADY_SETTLED", err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		// Retries exhausted under sustained contention; the caller may try again.
		httpx.WriteError(w, 409, "VERSION_CONFLICT", err.Error())
	default:
		httpx.WriteError(w, 500, "INTERNAL", err.Error())
	}
}
