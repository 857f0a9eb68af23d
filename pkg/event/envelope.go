package event

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrInvalidEnvelope  = errors.New("invalid command envelope")
	ErrMalformedCommand = errors.New("malformed command")
)

// MalformedCommandError reports a recognized command missing an expected field
// or carrying it with the wrong type.
type MalformedCommandError struct {
	Cmd   string
	Field string
}

func (e *MalformedCommandError) Error() string {
	return fmt.Sprintf("malformed %s command: bad or missing %s", e.Cmd, e.Field)
}

func (e *MalformedCommandError) Is(target error) bool {
	return target == ErrMalformedCommand
}

// Envelope is the raw shape of one live-room command.
// Numbers inside Data and Info are json.Number.
type Envelope struct {
	Cmd  string
	Data any
	Info any
	Raw  []byte
}

type rawEnvelope struct {
	Cmd  string `json:"cmd"`
	Data any    `json:"data"`
	Info any    `json:"info"`
}

// ParseEnvelope decodes a command-batch frame body.
func ParseEnvelope(body []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw rawEnvelope
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if raw.Cmd == "" {
		return Envelope{}, fmt.Errorf("%w: missing cmd", ErrInvalidEnvelope)
	}
	return Envelope{
		Cmd:  raw.Cmd,
		Data: raw.Data,
		Info: raw.Info,
		Raw:  body,
	}, nil
}

// Decode parses body and classifies it in one step.
func Decode(body []byte) (Event, error) {
	env, err := ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return Classify(env)
}
