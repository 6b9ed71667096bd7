package apiclient

import "context"

type outcome struct {
	resp *Response
	err  error
}

// pendingEntry is a caller suspended until the refresh settles. result is
// buffered so settling never blocks on a caller that stopped waiting.
type pendingEntry struct {
	ctx    context.Context
	req    *Request
	result chan outcome
}

func newPendingEntry(ctx context.Context, req *Request) *pendingEntry {
	return &pendingEntry{ctx: ctx, req: req, result: make(chan outcome, 1)}
}

func (e *pendingEntry) resolve(resp *Response, err error) {
	e.result <- outcome{resp: resp, err: err}
}

func (e *pendingEntry) wait(ctx context.Context) (*Response, error) {
	select {
	case o := <-e.result:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pendingQueue is a FIFO of suspended callers. Not safe for concurrent use;
// the coordinator guards it.
type pendingQueue struct {
	entries []*pendingEntry
}

func (q *pendingQueue) push(e *pendingEntry) int {
	q.entries = append(q.entries, e)
	return len(q.entries)
}

func (q *pendingQueue) pop() (*pendingEntry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return e, true
}

func (q *pendingQueue) len() int { return len(q.entries) }
