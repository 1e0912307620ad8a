package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/pkg/analysis"
)

// AnalysisHandler runs the analyzer without storing anything.
type AnalysisHandler struct {
	analyzer *analysis.Analyzer
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(analyzer *analysis.Analyzer) *AnalysisHandler {
	return &AnalysisHandler{analyzer: analyzer}
}

// RegisterRoutes mounts the handler on router.
func (h *AnalysisHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/analyze", h.AnalyzeText).Methods(http.MethodPost)
	router.HandleFunc("/analyze/context", h.AnalyzeContext).Methods(http.MethodPost)
}

// AnalyzeText handles POST /analyze
func (h *AnalysisHandler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	text, err := decodeText(r)
	if err != nil {
		writeDecodeError(rw, err)
		return
	}

	result, err := h.analyzer.AnalyzeText(r.Context(), text)
	if err != nil {
		rw.Error(http.StatusInternalServerError, response.ErrorCodeAnalysisFailed, "Failed to analyze text", nil)
		return
	}
	rw.OK(result)
}

// AnalyzeContext handles POST /analyze/context
func (h *AnalysisHandler) AnalyzeContext(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	text, err := decodeText(r)
	if err != nil {
		writeDecodeError(rw, err)
		return
	}
	rw.OK(h.analyzer.AnalyzeContext(text))
}
