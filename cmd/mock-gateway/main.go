package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/gateway"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
)

// Stands in for the five mobile money providers during local development:
// accepts each provider's initiation payload and fires a signed success
// callback at the URL the payload carries, after a short delay to mimic the
// payer approving on their handset.
func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	secrets := map[string]string{
		"orange":     os.Getenv("ORANGE_WEBHOOK_SECRET"),
		"mtn":        os.Getenv("MTN_WEBHOOK_SECRET"),
		"wave":       os.Getenv("WAVE_WEBHOOK_SECRET"),
		"moov":       os.Getenv("MOOV_WEBHOOK_SECRET"),
		"free_money": os.Getenv("FREE_MONEY_WEBHOOK_SECRET"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /orange/webpayment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID  string `json:"order_id"`
			Amount   int64  `json:"amount"`
			NotifURL string `json:"notif_url"`
		}
		if !decode(w, r, &req) {
			return
		}
		scheduleCallback(req.NotifURL, secrets["orange"], map[string]any{
			"order_id": req.OrderID,
			"status":   "SUCCESS",
			"amount":   req.Amount,
			"txnid":    uuid.NewString(),
		})
		writeJSON(w, http.StatusOK, map[string]string{
			"payment_url": "https://pay.example.local/orange/" + req.OrderID,
			"pay_token":   uuid.NewString(),
		})
	})

	mux.HandleFunc("POST /mtn/collection/requesttopay", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount      string `json:"amount"`
			ExternalID  string `json:"externalId"`
			CallbackURL string `json:"callbackUrl"`
		}
		if !decode(w, r, &req) {
			return
		}
		scheduleCallback(req.CallbackURL, secrets["mtn"], map[string]any{
			"externalId": req.ExternalID,
			"status":     "SUCCESSFUL",
			"amount":     req.Amount,
		})
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /wave/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount          string `json:"amount"`
			ClientReference string `json:"client_reference"`
			SuccessURL      string `json:"success_url"`
		}
		if !decode(w, r, &req) {
			return
		}
		scheduleCallback(req.SuccessURL, secrets["wave"], map[string]any{
			"client_reference": req.ClientReference,
			"checkout_status":  "complete",
			"amount":           req.Amount,
		})
		writeJSON(w, http.StatusOK, map[string]string{
			"id":              uuid.NewString(),
			"wave_launch_url": "https://pay.example.local/wave/" + req.ClientReference,
		})
	})

	mux.HandleFunc("POST /moov/merchant/payment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reference   string `json:"reference"`
			Amount      int64  `json:"amount"`
			CallbackURL string `json:"callback_url"`
		}
		if !decode(w, r, &req) {
			return
		}
		scheduleCallback(req.CallbackURL, secrets["moov"], map[string]any{
			"reference": req.Reference,
			"status":    "OK",
			"amount":    req.Amount,
		})
		writeJSON(w, http.StatusOK, map[string]string{"transaction_id": uuid.NewString()})
	})

	mux.HandleFunc("POST /freemoney/payments", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExternalRef string `json:"external_ref"`
			Amount      int64  `json:"amount"`
			NotifyURL   string `json:"notify_url"`
		}
		if !decode(w, r, &req) {
			return
		}
		scheduleCallback(req.NotifyURL, secrets["free_money"], map[string]any{
			"external_ref": req.ExternalRef,
			"state":        "success",
			"amount":       req.Amount,
		})
		writeJSON(w, http.StatusOK, map[string]string{
			"transaction_id": uuid.NewString(),
			"redirect_url":   "https://pay.example.local/freemoney/" + req.ExternalRef,
		})
	})

	addr := ":8081"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}

	slog.Info("mock gateway started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func scheduleCallback(url, secret string, payload map[string]any) {
	if url == "" {
		return
	}
	go func() {
		time.Sleep(2 * time.Second)

		body, err := json.Marshal(payload)
		if err != nil {
			slog.Error("failed to marshal callback", "error", err)
			return
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			slog.Error("failed to build callback request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", gateway.Sign(body, secret))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			slog.Error("callback delivery failed", "url", url, "error", err)
			return
		}
		resp.Body.Close()
		slog.Info("callback delivered", "url", url, "status", resp.StatusCode)
	}()
}
