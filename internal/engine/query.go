package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/generate"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/logging"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// maxResultsLimit bounds QueryRequest.MaxResults.
const maxResultsLimit = 50

// QueryRequest is a question for the library.
type QueryRequest struct {
	Question string `json:"question"`
	// MaxResults is the number of passages retrieved. Zero means the
	// configured default.
	MaxResults int `json:"max_results,omitempty"`
	// IncludeSimilar attaches related passages to each source. Nil means
	// the configured default.
	IncludeSimilar *bool `json:"include_similar,omitempty"`
}

// QueryResult is the answer to a question. Sources are the passages the
// answer was generated from; Cited are those the answer text references.
type QueryResult struct {
	QueryID        string             `json:"query_id"`
	State          generate.State     `json:"state"`
	Answer         string             `json:"answer"`
	Sources        []library.Citation `json:"sources"`
	Cited          []library.Citation `json:"cited"`
	Provider       providers.ID       `json:"provider,omitempty"`
	Model          string             `json:"model,omitempty"`
	UsedFallback   bool               `json:"used_fallback"`
	Attempts       []generate.Attempt `json:"attempts,omitempty"`
	ProcessingTime float64            `json:"processing_time"`
}

// Query answers a question from the library. The query moves PENDING,
// RETRIEVING, GENERATING and ends SUCCEEDED, FAILED_NO_SOURCES_OK or
// FAILED_RETRY_EXHAUSTED. On FAILED_RETRY_EXHAUSTED the result is returned
// together with a *library.ProviderError.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	start := time.Now()
	res := QueryResult{QueryID: uuid.NewString(), State: generate.StatePending}

	ctx = logging.WithQueryID(ctx, res.QueryID)
	ctx, span := tracer.Start(ctx, "engine.Query")
	defer span.End()
	span.SetAttributes(attribute.String("query_id", res.QueryID))

	finish := func(err error) (QueryResult, error) {
		res.ProcessingTime = time.Since(start).Seconds()
		queryDuration.Observe(res.ProcessingTime)
		queryTotal.WithLabelValues(string(res.State)).Inc()
		span.SetAttributes(attribute.String("state", string(res.State)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		return res, err
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return finish(&library.RetrievalError{Reason: "question cannot be empty"})
	}
	k := req.MaxResults
	if k == 0 {
		k = e.defaultResults
	}
	if k < 0 || k > maxResultsLimit {
		return finish(&library.RetrievalError{Reason: "max_results must be between 1 and 50"})
	}
	includeSimilar := e.includeSimilar
	if req.IncludeSimilar != nil {
		includeSimilar = *req.IncludeSimilar
	}

	res.State = generate.StateRetrieving
	citations, err := e.retriever.Retrieve(ctx, question, k, includeSimilar)
	if err != nil {
		e.logger.Warn(ctx, "retrieval failed", zap.Error(err))
		return finish(err)
	}
	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	e.logger.Debug(ctx, "passages retrieved", zap.Int("count", len(citations)))

	if len(citations) > 0 {
		res.State = generate.StateGenerating
	}
	ans, err := e.generator.Answer(ctx, question, citations)
	res.State = ans.State
	res.Sources = ans.Citations
	res.Attempts = ans.Attempts
	if err != nil {
		var pe *library.ProviderError
		if errors.As(err, &pe) {
			e.logger.Error(ctx, "no provider could answer", zap.Error(err), zap.Int("attempts", len(ans.Attempts)))
		}
		return finish(err)
	}

	res.Answer = ans.Text
	res.Cited = ans.Cited
	res.Provider = ans.Provider
	res.Model = ans.Model
	res.UsedFallback = ans.UsedFallback

	e.logger.Info(ctx, "query answered",
		zap.String("state", string(res.State)),
		zap.Int("sources", len(res.Sources)),
		zap.String("provider", string(res.Provider)),
		zap.Bool("fallback", res.UsedFallback),
		zap.Duration("duration", time.Since(start)))
	return finish(nil)
}
