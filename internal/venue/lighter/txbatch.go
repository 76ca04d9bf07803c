package lighter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FrameWriter is the narrow collaborator TxBatcher needs from a
// venue.Session: one method to push a raw outbound frame.
type FrameWriter interface {
	WriteRaw(frame []byte) error
}

// TxBatcher implements VenueSession.send_tx_batch (spec §6.2): it
// correlates a `jsonapi/sendtxbatch` request with its asynchronous
// response by request id, since Family B multiplexes every reply over the
// same inbound frame stream the codec already decodes.
type TxBatcher struct {
	writer FrameWriter

	mu      sync.Mutex
	pending map[string]chan TxBatchResponse
}

// NewTxBatcher builds a TxBatcher bound to one session's outbound writer.
func NewTxBatcher(writer FrameWriter) *TxBatcher {
	return &TxBatcher{writer: writer, pending: map[string]chan TxBatchResponse{}}
}

// Send wraps txTypes/txInfos in a single `jsonapi/sendtxbatch` round-trip
// and blocks until the matching response arrives or timeoutSeconds elapses
// (spec §6.2 `send_tx_batch(tx_types, tx_infos, request_id?, timeout_seconds)
// -> response | error`). A caller-supplied requestID is reused verbatim;
// an empty one gets a fresh uuid so concurrent callers never collide.
func (b *TxBatcher) Send(ctx context.Context, txTypes, txInfos []string, requestID string, timeoutSeconds int) (TxBatchResponse, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	frame, err := EncodeSendTxBatch(requestID, txTypes, txInfos)
	if err != nil {
		return TxBatchResponse{}, fmt.Errorf("lighter: encode send_tx_batch: %w", err)
	}

	replyCh := make(chan TxBatchResponse, 1)
	b.mu.Lock()
	b.pending[requestID] = replyCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	if err := b.writer.WriteRaw(frame); err != nil {
		return TxBatchResponse{}, fmt.Errorf("lighter: send_tx_batch write: %w", err)
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-timer.C:
		return TxBatchResponse{}, fmt.Errorf("lighter: send_tx_batch %s timed out after %s", requestID, timeout)
	case <-ctx.Done():
		return TxBatchResponse{}, ctx.Err()
	}
}

// Dispatch feeds one decoded response frame to its waiting caller, if any.
// The venue session's frame-handling loop calls this for every inbound
// frame that is not a ping, pong or subscription ack; only a frame whose
// "id" matches a pending request is claimed (true return).
func (b *TxBatcher) Dispatch(frame []byte) bool {
	resp, err := DecodeSendTxBatchResponse(frame)
	if err != nil || resp.ID == "" {
		return false
	}

	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- resp:
	default:
	}
	return true
}
