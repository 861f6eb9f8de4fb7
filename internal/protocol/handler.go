package protocol

import (
	"context"
	"errors"

	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

// Engine hands out read holds on the loaded dataset. *ephemeris.Provider
// implements it.
type Engine interface {
	Acquire() (ephemeris.Session, error)
}

// Result summarises a handled request.
type Result struct {
	Request Request
	Status  Status
	Bodies  int
}

// Handler turns requests into responses over a fixed catalog.
type Handler struct {
	engine  Engine
	catalog []ephemeris.Body
	log     logging.Logger
}

// NewHandler constructs a Handler. A nil catalog selects ephemeris.Catalog.
func NewHandler(engine Engine, catalog []ephemeris.Body, log logging.Logger) *Handler {
	if catalog == nil {
		catalog = ephemeris.Catalog
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Handler{engine: engine, catalog: catalog, log: log}
}

// Handle answers a 13-byte request. The whole answer is computed under one
// Session, so it never mixes two datasets. Steps run in wire order: convert
// the timestamp, write the header, check the mode, then walk the catalog. An
// unrecognised mode yields a header-only StatusError response; a request for
// which no body produced a record, including one whose timestamp could not
// be converted, carries the mode-specific error status.
func (h *Handler) Handle(ctx context.Context, raw []byte) ([]byte, Result, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, Result{}, err
	}
	res := Result{Request: req}

	sess, err := h.engine.Acquire()
	if err == nil {
		defer sess.Release()
	}
	var et float64
	if err == nil {
		et, err = sess.TimeToEphemerisTime(req.Timestamp)
	}
	convErr := err

	out := appendHeader(make([]byte, 0, HeaderSize+len(h.catalog)*RecordSize), req.Timestamp, Status(req.Mode))

	if !req.Mode.Valid() {
		out[HeaderSize-1] = byte(StatusError)
		res.Status = StatusError
		return out, res, nil
	}

	if convErr != nil {
		h.log.Warn(ctx, "timestamp conversion failed",
			logging.Float64("timestamp", req.Timestamp),
			logging.Err(convErr),
		)
		res.Status = errorStatus(req.Mode)
		out[HeaderSize-1] = byte(res.Status)
		return out, res, nil
	}

	lightTime := req.Mode == ModeLightTime
	for _, body := range h.catalog {
		ms, err := sess.ComputeState(et, body.ID, req.Observer, lightTime)
		if err != nil {
			if !errors.Is(err, ephemeris.ErrUnavailable) {
				h.log.Warn(ctx, "state computation failed",
					logging.Int("body", int(body.ID)),
					logging.Err(err),
				)
			} else {
				h.log.Debug(ctx, "body omitted",
					logging.String("name", body.Name),
					logging.Err(err),
				)
			}
			continue
		}
		out = AppendRecord(out, body.ID, ms)
		res.Bodies++
	}

	res.Status = successStatus(req.Mode)
	if res.Bodies == 0 {
		res.Status = errorStatus(req.Mode)
	}
	out[HeaderSize-1] = byte(res.Status)
	return out, res, nil
}
