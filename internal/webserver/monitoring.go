package webserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
)

// PromWrapper refreshes storage-derived gauges on every scrape before handing
// off to the prometheus handler.
type PromWrapper struct {
	promHandler http.Handler
	store       LaneStateStore
	logger      *zap.Logger
}

func NewPromWrapper(store LaneStateStore, logger *zap.Logger) PromWrapper {
	return PromWrapper{
		promHandler: promhttp.Handler(),
		store:       store,
		logger:      logger,
	}
}

func (p PromWrapper) fillPendingProofsMetric() {
	proofs, err := p.store.GetAllPendingProofs()
	if err != nil {
		p.logger.Error("failed to get pending proofs from storage", zap.Error(err))
		return
	}
	metrics.SetPendingProofsQueueSize(len(proofs))
}

func (p PromWrapper) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	p.fillPendingProofsMetric()
	p.promHandler.ServeHTTP(res, req)
}
