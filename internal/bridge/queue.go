package bridge

import "context"

// unbounded is an ordered single-producer, single-consumer queue whose
// producer never waits on the consumer. Memory grows with the backlog.
type unbounded[T any] struct {
	in  chan T
	out chan T
}

func newUnbounded[T any](ctx context.Context) *unbounded[T] {
	q := &unbounded[T]{in: make(chan T), out: make(chan T)}
	go q.run(ctx)
	return q
}

// push enqueues v; it reports false once ctx is done.
func (q *unbounded[T]) push(ctx context.Context, v T) bool {
	select {
	case q.in <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// close ends the input; out is closed after the backlog drains.
func (q *unbounded[T]) close() {
	close(q.in)
}

func (q *unbounded[T]) run(ctx context.Context) {
	defer close(q.out)
	var buf []T
	in := q.in
	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		case <-ctx.Done():
			return
		}
	}
}
