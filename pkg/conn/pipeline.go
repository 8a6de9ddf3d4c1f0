package conn

// pushPending appends a completed-send request to the FIFO of responses
// still outstanding. bodyLen is non-nil only for the interim entry pushed
// when a 100-continue request's headers have gone out but its body has
// not; the second, final entry for that same request carries nil.
func (c *Connection) pushPending(method, url string, bodyLen *int64) {
	c.pending = append(c.pending, PendingRequest{Method: method, URL: url, BodyLenOpt: bodyLen})
}

// peekPending returns the head of the pipeline without removing it.
func (c *Connection) peekPending() (PendingRequest, bool) {
	if len(c.pending) == 0 {
		return PendingRequest{}, false
	}
	return c.pending[0], true
}

// popPending removes and returns the head of the pipeline.
func (c *Connection) popPending() (PendingRequest, bool) {
	pr, ok := c.peekPending()
	if !ok {
		return PendingRequest{}, false
	}
	c.pending = c.pending[1:]
	return pr, true
}
