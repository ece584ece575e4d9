package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type replyFormat int

const (
	formatJSON replyFormat = iota + 1
	formatPipe
)

// reply is a gateway answer after decoding, whatever encoding it came in.
type reply struct {
	format  replyFormat
	status  string
	message string
	fields  map[string]string
}

func (r *reply) ok() bool {
	return isSuccessStatus(r.status)
}

// looseString accepts JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*s = looseString(n.String())
	}
	return nil
}

type jsonReply struct {
	Status     *looseString `json:"Status"`
	Code       *looseString `json:"Code"`
	Message    looseString  `json:"Message"`
	Entity     looseString  `json:"Entity"`
	Reference  looseString  `json:"Reference"`
	RequestID  looseString  `json:"RequestId"`
	PaymentURL looseString  `json:"PaymentUrl"`
}

var errUnparseable = errors.New("reply is neither JSON nor pipe-delimited")

// parseReply decodes a JSON object first and falls back to the positional
// `status|f1|f2` format described by schema.
func parseReply(body []byte, schema []string) (*reply, error) {
	if r, ok := parseJSONReply(body); ok {
		return r, nil
	}
	return parsePipeReply(body, schema)
}

func parseJSONReply(body []byte) (*reply, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var jr jsonReply
	if err := json.Unmarshal(trimmed, &jr); err != nil {
		return nil, false
	}

	status := jr.Status
	if status == nil {
		status = jr.Code
	}
	if status == nil {
		return nil, false
	}
	r := &reply{
		format:  formatJSON,
		status:  strings.TrimSpace(string(*status)),
		message: string(jr.Message),
		fields: map[string]string{
			"entity":     string(jr.Entity),
			"reference":  string(jr.Reference),
			"requestId":  string(jr.RequestID),
			"paymentUrl": string(jr.PaymentURL),
		},
	}
	return r, true
}

func parsePipeReply(body []byte, schema []string) (*reply, error) {
	parts := strings.Split(strings.TrimSpace(string(body)), "|")
	status := strings.TrimSpace(parts[0])
	if !isNumeric(status) {
		return nil, errUnparseable
	}

	r := &reply{format: formatPipe, status: status, fields: map[string]string{}}
	if !isSuccessStatus(status) {
		if len(parts) > 1 {
			r.message = strings.TrimSpace(strings.Join(parts[1:], "|"))
		}
		return r, nil
	}
	if len(parts)-1 < len(schema) {
		return nil, errors.New("pipe reply has " + strconv.Itoa(len(parts)-1) + " fields, want " + strconv.Itoa(len(schema)))
	}
	for i, name := range schema {
		r.fields[name] = strings.TrimSpace(parts[i+1])
	}
	return r, nil
}

// isNumeric accepts gateway status codes, which may be negative.
func isNumeric(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isSuccessStatus(s string) bool {
	if !isNumeric(s) {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n == 0
}
