//Package httpStatus serves the state of a correlator context and the read metrics over http
package httpStatus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"mwaSuite/correlator"
	"mwaSuite/coveragePlot"
	"mwaSuite/obsErrors"
	"mwaSuite/reconcile"
)

//ContextSummary is the json representation of a correlator context
type ContextSummary struct {
	ObsID                    uint64              `json:"obsid"`
	Version                  string              `json:"version"`
	NumFiles                 int                 `json:"numFiles"`
	NumTimesteps             int                 `json:"numTimesteps"`
	NumCoarseChannels        int                 `json:"numCoarseChannels"`
	NumBaselines             int                 `json:"numBaselines"`
	NumFineChannelsPerCoarse int                 `json:"numFineChannelsPerCoarse"`
	TimestepSets             reconcile.IndexSets `json:"timestepSets"`
	ChannelSets              reconcile.IndexSets `json:"channelSets"`
}

//Summarize creates the ContextSummary of c
func Summarize(c *correlator.Context) ContextSummary {
	return ContextSummary{
		ObsID:                    c.Metafits.ObsID,
		Version:                  c.Version.String(),
		NumFiles:                 c.Files.FileCount(),
		NumTimesteps:             len(c.Timesteps),
		NumCoarseChannels:        len(c.CoarseChannels),
		NumBaselines:             c.NumBaselines,
		NumFineChannelsPerCoarse: c.NumFineChannelsPerCoarse,
		TimestepSets:             c.TimestepSets,
		ChannelSets:              c.ChannelSets,
	}
}

//readMsg is the answer to a read request
type readMsg struct {
	Timestep int     `json:"timestep"`
	Channel  int     `json:"channel"`
	Floats   int     `json:"floats"`
	Sum      float64 `json:"sum"`
}

type status struct {
	ctx      *correlator.Context
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
}

//NewStatus creates the handlers for ctx. gatherer is served on /metrics and may be nil
func NewStatus(ctx *correlator.Context, gatherer prometheus.Gatherer, log logrus.FieldLogger) *status {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &status{ctx: ctx, gatherer: gatherer, log: log}
}

//Routes returns the router with all handlers of s
func (s *status) Routes() http.Handler {
	router := http.NewServeMux()
	router.Handle("/context", http.HandlerFunc(s.handleContext))
	router.Handle("/coverage.png", http.HandlerFunc(s.handleCoverage))
	router.Handle("/read", http.HandlerFunc(s.handleRead))
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

func (s *status) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("Failed to write response : %v", err)
	}
}

func (s *status) handleContext(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("handleContext handler called")
	s.writeJSON(w, Summarize(s.ctx))
}

func (s *status) handleCoverage(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("handleCoverage handler called")
	counts := coveragePlot.Counts(s.ctx.Provided, len(s.ctx.Timesteps), len(s.ctx.CoarseChannels))
	w.Header().Set("Content-Type", "image/png")
	if err := coveragePlot.PlotAndStore(counts, len(s.ctx.CoarseChannels), w); err != nil {
		http.Error(w, "failed to create plot", http.StatusInternalServerError)
		s.log.Warnf("Failed to create coverage plot : %v", err)
	}
}

//statusOf maps the kind of a read error to a http status
func statusOf(err error) int {
	switch obsErrors.KindOf(err) {
	case obsErrors.KindRange:
		return http.StatusBadRequest
	case obsErrors.KindNoData:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %v %q", name, raw)
	}
	return v, nil
}

//handleRead reads (timestep, channel) by baseline and answers with the sum of all values
func (s *status) handleRead(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("handleRead handler called")
	ts, err := intParam(r, "timestep")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ch, err := intParam(r, "channel")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buf := make([]float32, s.ctx.NumTimestepCoarseChannelFloats())
	if err := s.ctx.ReadByBaseline(ts, ch, buf); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		s.log.WithFields(logrus.Fields{"timestep": ts, "channel": ch}).Debugf("read failed : %v", err)
		return
	}
	values := make([]float64, len(buf))
	for i := range buf {
		values[i] = float64(buf[i])
	}
	s.writeJSON(w, readMsg{Timestep: ts, Channel: ch, Floats: len(buf), Sum: floats.Sum(values)})
}
