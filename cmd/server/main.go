package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/accounts"
	"github.com/finledger/finledger/internal/budget"
	"github.com/finledger/finledger/internal/categories"
	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/events/kafka"
	"github.com/finledger/finledger/internal/events/logpub"
	"github.com/finledger/finledger/internal/interfaces"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/models"
	"github.com/finledger/finledger/internal/storage/memory"
	"github.com/finledger/finledger/internal/storage/postgres"
)

func main() {
	cfg := common.LoadConfig()
	log := common.NewLogger(cfg.LogLevel)

	var store interfaces.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		store = pg
		log.Info().Msg("using postgres store")
	} else {
		store = memory.NewStore()
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	var publisher interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("publishing events to kafka")
	} else {
		publisher = logpub.NewPublisher(log)
	}

	ledgerSvc := ledger.New(store, publisher, log)
	accountSvc := accounts.NewService(store, log)
	budgetSvc := budget.NewAggregator(store, log)
	categorySvc := categories.NewRegistry(store)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		var intent ledger.PostIntent
		if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		tx, err := ledgerSvc.Post(r.Context(), ownerID(r), intent)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	})

	mux.HandleFunc("GET /transactions", func(w http.ResponseWriter, r *http.Request) {
		filter := models.TransactionFilter{
			AccountID:  r.URL.Query().Get("account_id"),
			CategoryID: r.URL.Query().Get("category_id"),
			Type:       models.TransactionType(r.URL.Query().Get("type")),
			Status:     models.TransactionStatus(r.URL.Query().Get("status")),
		}
		filter.From, _ = parseDate(r.URL.Query().Get("from"))
		filter.To, _ = parseDate(r.URL.Query().Get("to"))
		txs, err := ledgerSvc.List(r.Context(), ownerID(r), filter)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, txs)
	})

	mux.HandleFunc("GET /transactions/stats", func(w http.ResponseWriter, r *http.Request) {
		from, _ := parseDate(r.URL.Query().Get("from"))
		to, _ := parseDate(r.URL.Query().Get("to"))
		stats, err := ledgerSvc.Stats(r.Context(), ownerID(r), from, to)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("GET /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		tx, err := ledgerSvc.Get(r.Context(), ownerID(r), r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	})

	mux.HandleFunc("PATCH /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch ledger.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		tx, err := ledgerSvc.Amend(r.Context(), ownerID(r), r.PathValue("id"), patch)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	})

	mux.HandleFunc("DELETE /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerSvc.Void(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /accounts", func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Name           string             `json:"name"`
			Type           models.AccountType `json:"type"`
			InitialBalance decimal.Decimal    `json:"initial_balance"`
			Currency       string             `json:"currency"`
			IsDefault      bool               `json:"is_default"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		account, err := accountSvc.Create(r.Context(), ownerID(r), accounts.CreateParams{
			Name:           params.Name,
			Type:           params.Type,
			InitialBalance: params.InitialBalance,
			Currency:       params.Currency,
			IsDefault:      params.IsDefault,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	})

	mux.HandleFunc("GET /accounts", func(w http.ResponseWriter, r *http.Request) {
		list, err := accountSvc.List(r.Context(), ownerID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		account, err := accountSvc.Get(r.Context(), ownerID(r), r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	mux.HandleFunc("PATCH /accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		var params accounts.UpdateParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		account, err := accountSvc.Update(r.Context(), ownerID(r), r.PathValue("id"), params)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	mux.HandleFunc("POST /accounts/{id}/default", func(w http.ResponseWriter, r *http.Request) {
		account, err := accountSvc.SetDefault(r.Context(), ownerID(r), r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	mux.HandleFunc("DELETE /accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := accountSvc.Close(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /budgets", func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Name       string          `json:"name"`
			Amount     decimal.Decimal `json:"amount"`
			CategoryID string          `json:"category_id"`
			StartDate  time.Time       `json:"start_date"`
			EndDate    time.Time       `json:"end_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		b, err := budgetSvc.Create(r.Context(), ownerID(r), budget.CreateParams{
			Name:       params.Name,
			Amount:     params.Amount,
			CategoryID: params.CategoryID,
			StartDate:  params.StartDate,
			EndDate:    params.EndDate,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	})

	mux.HandleFunc("GET /budgets", func(w http.ResponseWriter, r *http.Request) {
		list, err := budgetSvc.List(r.Context(), ownerID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /budgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		b, err := budgetSvc.Get(r.Context(), ownerID(r), r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("PATCH /budgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		var params budget.UpdateParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		b, err := budgetSvc.Update(r.Context(), ownerID(r), r.PathValue("id"), params)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("POST /budgets/{id}/refresh", func(w http.ResponseWriter, r *http.Request) {
		b, err := budgetSvc.Refresh(r.Context(), ownerID(r), r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("DELETE /budgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := budgetSvc.Delete(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /categories", func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Name string                 `json:"name"`
			Type models.TransactionType `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		category, err := categorySvc.Create(r.Context(), ownerID(r), params.Name, params.Type)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, category)
	})

	mux.HandleFunc("GET /categories", func(w http.ResponseWriter, r *http.Request) {
		list, err := categorySvc.List(r.Context(), ownerID(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("DELETE /categories/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := categorySvc.Delete(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	log.Info().Str("addr", cfg.ListenAddr).Msg("starting server")
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// ownerID is supplied by the auth collaborator upstream; this core trusts
// it as-is.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrInvalidOperation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrBusinessRule):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
