package chatcmder

import (
	"errors"
	"strings"

	"github.com/papercomputeco/relay/pkg/llm"
)

type inputKind int

const (
	inputEmpty inputKind = iota
	inputMessage
	inputExit
	inputReset
	inputInvalid
)

type input struct {
	kind    inputKind
	message llm.Message
	err     error
}

// parseInput turns one line typed at the prompt into a message or a command.
func parseInput(line string) input {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{kind: inputEmpty}
	}

	switch {
	case line == "/exit" || line == "/quit":
		return input{kind: inputExit}

	case line == "/reset":
		return input{kind: inputReset}

	case line == "/image" || strings.HasPrefix(line, "/image "):
		fields := strings.Fields(strings.TrimPrefix(line, "/image"))
		if len(fields) == 0 {
			return input{kind: inputInvalid, err: errors.New("usage: /image <url> [question]")}
		}

		parts := llm.PartSequence{}
		if question := strings.Join(fields[1:], " "); question != "" {
			parts = append(parts, llm.TextPart(question))
		}
		parts = append(parts, llm.ImagePart(fields[0]))
		return input{kind: inputMessage, message: llm.Message{Role: llm.RoleUser, Content: parts}}
	}

	return input{kind: inputMessage, message: llm.NewTextMessage(llm.RoleUser, line)}
}
