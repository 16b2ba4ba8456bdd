package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxErrorBody = 1 << 20

// ResponseError is a non-2xx response from a downstream service.
//
// Two error envelopes are understood, both of the form {"error":{...}}:
// a string code with a message, as this service writes it, and a numeric
// code with a reason string in message, as identity toolkits write it
// ("WEAK_PASSWORD : Password should be at least 6 characters").
type ResponseError struct {
	Service string
	Status  int
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned status %d (%s): %s", e.Service, e.Status, e.Code, e.Message)
}

// Reason returns the upper-case token that identifies the failure, taken
// from Code when it is symbolic or from the head of Message otherwise.
func (e *ResponseError) Reason() string {
	if e.Code != "" {
		if _, err := strconv.Atoi(e.Code); err != nil {
			return e.Code
		}
	}
	head, _, _ := strings.Cut(e.Message, ":")
	return strings.TrimSpace(head)
}

type errorEnvelope struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads and closes the body of a non-2xx response and
// returns it as a *ResponseError.
func ParseResponseError(resp *http.Response, service string) *ResponseError {
	defer func() { _ = resp.Body.Close() }()

	rerr := &ResponseError{Service: service, Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		rerr.Message = fmt.Sprintf("read body: %v", err)
		return rerr
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		rerr.Message = env.Error.Message
		var code string
		if json.Unmarshal(env.Error.Code, &code) == nil {
			rerr.Code = code
		} else {
			rerr.Code = strings.TrimSpace(string(env.Error.Code))
		}
		return rerr
	}

	rerr.Message = strings.TrimSpace(string(body))
	return rerr
}
