package relay

// Request is one JSON frame sent to a remote signer over a relay.
type Request struct {
	ID     string   `json:"id"`
	From   string   `json:"from,omitempty"` // sender pubkey, hex
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

// envelope is the superset frame used to tell requests from responses on
// the inbound path.
type envelope struct {
	ID     string   `json:"id"`
	From   string   `json:"from,omitempty"`
	Method string   `json:"method,omitempty"`
	Params []string `json:"params,omitempty"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Responses never carry a sender, so a frame with neither result nor
// error is a request when it names a sender or carries params. This keeps
// paramless methods (get_public_key) on the request path.
func (e *envelope) isRequest() bool {
	if e.Result != "" || e.Error != "" {
		return false
	}
	return e.From != "" || len(e.Params) > 0
}

// Response is the matching reply frame. Error is set when the remote
// side rejected or failed the request.
type Response struct {
	ID     string `json:"id"`
	Method string `json:"method,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
