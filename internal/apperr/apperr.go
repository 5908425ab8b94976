// Package apperr classifies failures so callers can decide between retrying,
// re-prompting the user, or alerting the clinic.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse failure class.
type Kind string

const (
	KindUnknown     Kind = ""
	KindNotFound    Kind = "not_found"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindValidation  Kind = "validation"
)

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func NotFound(op, msg string) *Error { return New(KindNotFound, op, msg, nil) }

func Auth(op string, err error) *Error { return New(KindAuth, op, "authentication failed", err) }

func RateLimited(op, key string) *Error {
	return New(KindRateLimited, op, "rate limited: "+key, nil)
}

func Transient(op string, err error) *Error { return New(KindTransient, op, "temporary failure", err) }

func Validation(op, msg string) *Error { return New(KindValidation, op, msg, nil) }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsAuth(err error) bool        { return KindOf(err) == KindAuth }
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }
func IsTransient(err error) bool   { return KindOf(err) == KindTransient }
func IsValidation(err error) bool  { return KindOf(err) == KindValidation }

// UserMessage is the WhatsApp reply shown when a turn fails with err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return "Desculpe, este atendimento não está disponível no momento."
	case KindAuth:
		return "Não consegui acessar a agenda da clínica agora. A equipe já foi avisada, tente novamente mais tarde."
	case KindRateLimited:
		return "Recebemos muitas mensagens em pouco tempo. Aguarde alguns instantes e tente novamente."
	case KindValidation:
		return "Não entendi sua resposta. Pode repetir?"
	default:
		return "Tivemos um problema temporário. Por favor, tente novamente em instantes."
	}
}
