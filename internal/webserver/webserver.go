package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// LaneStateStore is the webserver's view of the persisted lane state.
type LaneStateStore interface {
	OutboundLaneData(lane relay.LaneID) (relay.OutboundLaneData, error)
	InboundLaneData(lane relay.LaneID) (relay.InboundLaneData, error)
	GetSubmittedProofs(lane relay.LaneID) ([]*relay.SubmittedProofInfo, error)
	GetAllPendingProofs() ([]*relay.SubmittedProofInfo, error)
}

// Router serves the relayer's inspection API.
func Router(store LaneStateStore, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/lanes/{lane}/outbound", outboundLane(store, logger)).Methods(http.MethodGet)
	router.HandleFunc("/lanes/{lane}/inbound", inboundLane(store, logger)).Methods(http.MethodGet)
	router.HandleFunc("/lanes/{lane}/journal", laneJournal(store, logger)).Methods(http.MethodGet)
	router.HandleFunc("/pending_proofs", pendingProofs(store, logger)).Methods(http.MethodGet)
	return router
}

// Run serves the inspection API until ctx is cancelled.
func Run(ctx context.Context, store LaneStateStore, logger *zap.Logger, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Router(store, logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down webserver", zap.Error(err))
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func outboundLane(store LaneStateStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lane, ok := parseLane(w, r)
		if !ok {
			return
		}
		data, err := store.OutboundLaneData(lane)
		if err != nil {
			internalError(w, logger, "failed to read outbound lane data", err)
			return
		}
		writeJSON(w, logger, data)
	}
}

func inboundLane(store LaneStateStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lane, ok := parseLane(w, r)
		if !ok {
			return
		}
		data, err := store.InboundLaneData(lane)
		if err != nil {
			internalError(w, logger, "failed to read inbound lane data", err)
			return
		}
		writeJSON(w, logger, data)
	}
}

func laneJournal(store LaneStateStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lane, ok := parseLane(w, r)
		if !ok {
			return
		}
		proofs, err := store.GetSubmittedProofs(lane)
		if err != nil {
			internalError(w, logger, "failed to read lane journal", err)
			return
		}
		writeJSON(w, logger, proofs)
	}
}

func pendingProofs(store LaneStateStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proofs, err := store.GetAllPendingProofs()
		if err != nil {
			internalError(w, logger, "failed to read pending proofs", err)
			return
		}
		writeJSON(w, logger, proofs)
	}
}

func parseLane(w http.ResponseWriter, r *http.Request) (relay.LaneID, bool) {
	lane, err := relay.ParseLaneID(mux.Vars(r)["lane"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return relay.LaneID{}, false
	}
	return lane, true
}

func internalError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
