// Package session drives one client connection: the handshake, then a
// FIFO stream of query frames dispatched to the interpreter, each
// identified by a client-assigned token that ties a START to its later
// CONTINUE/STOP.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
	"github.com/calvinalkan/rethinkdb-core/internal/query"
	"github.com/calvinalkan/rethinkdb-core/internal/wire"
)

// ResponseKind tags the "t" field of a response frame's JSON payload.
const (
	ResponseSuccessAtom     = 1
	ResponseSuccessSequence = 2
	ResponseWaitComplete    = 3
	ResponseServerInfo      = 4
	ResponseRuntimeError    = 18
)

const runtimeErrorCode = 1000000

// Info identifies the server in a SERVER_INFO reply and carries the
// auth key, if any, new connections must present during the handshake.
type Info struct {
	ID              string
	Name            string
	Version         string
	ExpectedAuthKey string
}

type requestPayload struct {
	Type  string          `json:"type"`
	Query json.RawMessage `json:"query"`
}

type responsePayload struct {
	T int64         `json:"t"`
	R []interface{} `json:"r"`
}

// errorPayload is the fixed failure shape {t, r, e, b, m}; unlike
// success responses, the error fields are always present, even when
// empty.
type errorPayload struct {
	T int64         `json:"t"`
	R []interface{} `json:"r"`
	E int           `json:"e"`
	B []interface{} `json:"b"`
	M string        `json:"m"`
}

// Session owns one connection's lifetime: the negotiated handshake, the
// namespace it queries against, and the set of START calls still
// in flight.
type Session struct {
	rw   io.ReadWriter
	ns   *namespace.Namespace
	info Info

	ec *query.EvalContext

	writeMu sync.Mutex

	mu          sync.Mutex
	outstanding map[int64]context.CancelFunc

	// lastDone is closed when the most recently started START finishes;
	// only the read loop touches it.
	lastDone chan struct{}

	wg sync.WaitGroup
}

// Serve performs the handshake against rw and then loops reading and
// dispatching query frames until the connection closes or a protocol
// violation occurs.
func Serve(rw io.ReadWriter, ns *namespace.Namespace, info Info) error {
	if _, err := wire.Accept(rw, info.Version, info.ExpectedAuthKey); err != nil {
		return err
	}

	s := &Session{
		rw:          rw,
		ns:          ns,
		info:        info,
		ec:          query.NewEvalContext(),
		outstanding: make(map[int64]context.CancelFunc),
	}

	defer s.wg.Wait()

	for {
		frame, err := wire.ReadQuery(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}

			return err
		}

		if err := s.dispatch(frame); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(frame wire.QueryFrame) error {
	var req requestPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return s.writeError(frame.Token, fmt.Errorf("malformed request: %w", err))
	}

	switch req.Type {
	case "START":
		s.startQuery(frame.Token, req.Query)
		return nil
	case "CONTINUE":
		return s.writeFrame(frame.Token, responsePayload{T: ResponseSuccessSequence, R: []interface{}{}})
	case "STOP":
		s.cancel(frame.Token)
		return s.writeFrame(frame.Token, responsePayload{T: ResponseSuccessSequence, R: []interface{}{}})
	case "NOREPLY_WAIT":
		s.wg.Wait()
		return s.writeFrame(frame.Token, responsePayload{T: ResponseWaitComplete, R: []interface{}{}})
	case "SERVER_INFO":
		return s.writeFrame(frame.Token, responsePayload{
			T: ResponseServerInfo,
			R: []interface{}{map[string]interface{}{"id": s.info.ID, "name": s.info.Name, "version": s.info.Version}},
		})
	default:
		return s.writeError(frame.Token, fmt.Errorf("unknown query type %q", req.Type))
	}
}

// startQuery compiles and evaluates a START query in its own goroutine,
// registering a cancel func under its token so a later STOP can abandon
// the call stack mid-evaluation. The read loop does not wait for it,
// matching a client's ability to send STOP for a still-running query.
// Each goroutine waits for the previous START to finish, so queries on
// one connection are evaluated one at a time, in the order they arrived.
func (s *Session) startQuery(token int64, rawQuery json.RawMessage) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.outstanding[token] = cancel
	s.mu.Unlock()

	prev := s.lastDone
	done := make(chan struct{})
	s.lastDone = done

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(done)
		defer func() {
			s.mu.Lock()
			delete(s.outstanding, token)
			s.mu.Unlock()

			cancel()
		}()

		if prev != nil {
			<-prev
		}

		term, err := query.Compile(rawQuery)
		if err != nil {
			_ = s.writeError(token, err)
			return
		}

		exec := query.NewExecutor(s.ns)

		result, err := exec.Eval(ctx, s.ec, term)
		if err != nil {
			if dberr.Is(err, dberr.KindCanceled) {
				return
			}

			_ = s.writeError(token, err)

			return
		}

		var decoded interface{}
		if err := json.Unmarshal(mustJSON(result), &decoded); err != nil {
			_ = s.writeError(token, err)
			return
		}

		_ = s.writeFrame(token, responsePayload{T: ResponseSuccessAtom, R: []interface{}{decoded}})
	}()
}

func (s *Session) cancel(token int64) {
	s.mu.Lock()
	cancel, ok := s.outstanding[token]
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

func (s *Session) writeError(token int64, err error) error {
	return s.writeFrame(token, errorPayload{
		T: ResponseRuntimeError,
		R: []interface{}{},
		E: runtimeErrorCode,
		B: []interface{}{},
		M: err.Error(),
	})
}

func (s *Session) writeFrame(token int64, resp interface{}) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return wire.WriteResponse(s.rw, wire.ResponseFrame{Token: token, Payload: payload})
}

func mustJSON(doc interface{ ToJSON() ([]byte, error) }) []byte {
	b, err := doc.ToJSON()
	if err != nil {
		return []byte("null")
	}

	return b
}
