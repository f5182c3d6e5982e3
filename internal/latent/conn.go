// SPDX-License-Identifier: MIT

package latent

import (
	"bufio"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/justinTNT/tsnotfyi-sub002/internal/fault"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
)

// conn is one live stdin/stdout pair to a child. A single reader goroutine
// dispatches responses to per-request channels; writes are serialized.
type conn struct {
	writeMu sync.Mutex
	stdin   io.Writer

	pendMu  sync.Mutex
	pending map[uint64]chan response
	closed  bool
}

func newConn(stdin io.Writer, stdout io.Reader) *conn {
	cn := &conn{
		stdin:   stdin,
		pending: make(map[uint64]chan response),
	}
	go cn.readLoop(stdout)
	return cn
}

// send registers the request and writes one JSON line to the child.
func (cn *conn) send(req request) (<-chan response, error) {
	ch := make(chan response, 1)

	cn.pendMu.Lock()
	if cn.closed {
		cn.pendMu.Unlock()
		return nil, fault.New(fault.KindBackendUnavailable, "latent.send", "backend down")
	}
	cn.pending[req.ID] = ch
	cn.pendMu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		cn.forget(req.ID)
		return nil, err
	}
	line = append(line, '\n')

	cn.writeMu.Lock()
	_, err = cn.stdin.Write(line)
	cn.writeMu.Unlock()
	if err != nil {
		cn.forget(req.ID)
		return nil, fault.BackendUnavailable("latent.send", err)
	}
	return ch, nil
}

// forget drops a pending registration (after delivery, timeout or error).
func (cn *conn) forget(id uint64) {
	cn.pendMu.Lock()
	delete(cn.pending, id)
	cn.pendMu.Unlock()
}

// readLoop is the single reader: one JSON object per line, dispatched by id.
// Unparsable lines and unknown ids are logged and dropped.
func (cn *conn) readLoop(stdout io.Reader) {
	logger := log.WithComponent("latent")
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			logger.Warn().Err(err).Msg("unparsable line from latent backend")
			continue
		}
		cn.pendMu.Lock()
		ch, ok := cn.pending[resp.ID]
		if ok {
			delete(cn.pending, resp.ID)
		}
		cn.pendMu.Unlock()
		if !ok {
			logger.Debug().Uint64("id", resp.ID).Msg("latent response for unknown request id")
			continue
		}
		ch <- resp
	}
	// Child stdout closed: everything still waiting fails.
	cn.failAll()
}

// failAll closes every pending channel so waiters see backend-unavailable.
func (cn *conn) failAll() {
	cn.pendMu.Lock()
	defer cn.pendMu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	for id, ch := range cn.pending {
		close(ch)
		delete(cn.pending, id)
	}
}
