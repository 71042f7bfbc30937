package client

import "context"

// Pending is the outcome of a request issued in the background. The local
// change it belongs to has already been applied when it is returned.
type Pending struct {
	done chan struct{}
	err  error
}

func resolved(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// background runs call on its own goroutine. A failure goes to the client's
// error handler under label and is also reported by Wait.
func (c *Client) background(label string, call func(context.Context) error) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if err := call(context.Background()); err != nil {
			p.err = err
			c.errors.Handle(label, err)
		}
	}()
	return p
}

// Wait blocks until the request finished and returns its error.
func (p *Pending) Wait() error {
	<-p.done
	return p.err
}

// Done is closed once the request finished.
func (p *Pending) Done() <-chan struct{} { return p.done }
