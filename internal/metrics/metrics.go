package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelChain  = "chain"
	labelLane   = "lane"
	labelRace   = "race"
	labelNonce  = "nonce"
	labelMethod = "method"
	labelType   = "type"
	typeSuccess = "success"
	typeFailed  = "failed"
)

var (
	loopRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_loop_restarts",
		Help: "The total number of lane loop restarts after a connection loss (counter)",
	}, []string{labelLane})

	connectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_errors",
		Help: "The total number of connection-class client errors (counter)",
	}, []string{labelChain})

	bestFinalizedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "best_finalized_block",
		Help: "The best finalized block number reported by the chain client",
	}, []string{labelChain, labelLane})

	laneNonces = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lane_nonces",
		Help: "The lane nonce watermarks as seen by the races",
	}, []string{labelNonce, labelLane})

	submittedProofs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submitted_proofs",
		Help: "The total number of submitted proof transactions (counter)",
	}, []string{labelLane, labelRace, labelType})

	requestTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_time",
		Help:    "A histogram of chain RPC requests duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{labelMethod, labelType})
)

// IncLoopRestarts counts one reconnect-and-restart of a lane loop.
func IncLoopRestarts(lane string) {
	loopRestarts.With(prometheus.Labels{labelLane: lane}).Inc()
}

// IncConnectionErrors counts one connection-class error from a chain client.
func IncConnectionErrors(chain string) {
	connectionErrors.With(prometheus.Labels{labelChain: chain}).Inc()
}

// SetBestFinalizedBlock records the best finalized block seen by a poller.
func SetBestFinalizedBlock(chain, lane string, number uint64) {
	bestFinalizedBlock.With(prometheus.Labels{
		labelChain: chain,
		labelLane:  lane,
	}).Set(float64(number))
}

// SetLaneNonce records one of the lane's nonce watermarks.
func SetLaneNonce(nonce, lane string, value uint64) {
	laneNonces.With(prometheus.Labels{
		labelNonce: nonce,
		labelLane:  lane,
	}).Set(float64(value))
}

// IncProofsSubmitted counts one proof transaction submission attempt.
func IncProofsSubmitted(lane, race string, success bool) {
	t := typeSuccess
	if !success {
		t = typeFailed
	}
	submittedProofs.With(prometheus.Labels{
		labelLane: lane,
		labelRace: race,
		labelType: t,
	}).Inc()
}

// AddSuccessRequest records a successful chain RPC call and its duration.
func AddSuccessRequest(method string, dur float64) {
	requestTime.With(prometheus.Labels{
		labelMethod: method,
		labelType:   typeSuccess,
	}).Observe(dur)
}

// AddFailedRequest records a failed chain RPC call and its duration.
func AddFailedRequest(method string, dur float64) {
	requestTime.With(prometheus.Labels{
		labelMethod: method,
		labelType:   typeFailed,
	}).Observe(dur)
}

var dhtQueries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dht_queries",
	Help: "The total number of DHT record retrieval queries by outcome (counter)",
}, []string{labelType})

// IncDHTQueries counts one record retrieval query reaching the given outcome
// ("started", "succeeded" or "failed").
func IncDHTQueries(outcome string) {
	dhtQueries.With(prometheus.Labels{labelType: outcome}).Inc()
}

var pendingProofsQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pending_proofs",
	Help: "The total number of not-yet-terminal proof submissions in the storage",
})

// SetPendingProofsQueueSize records the pending submission journal size.
func SetPendingProofsQueueSize(size int) {
	pendingProofsQueueSize.Set(float64(size))
}
