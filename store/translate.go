package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var codeKinds = map[int]ErrorKind{
	CodeCancelled:          KindCancelled,
	CodeUnknown:            KindUnknown,
	CodeInvalidArgument:    KindInvalidArgument,
	CodeDeadlineExceeded:   KindDeadlineExceeded,
	CodeNotFound:           KindNotFound,
	CodeAlreadyExists:      KindAlreadyExists,
	CodePermissionDenied:   KindPermissionDenied,
	CodeResourceExhausted:  KindResourceExhausted,
	CodeFailedPrecondition: KindPreconditionFailed,
	CodeAborted:            KindAborted,
	CodeOutOfRange:         KindOutOfRange,
	CodeUnimplemented:      KindUnimplemented,
	CodeInternal:           KindInternal,
	CodeUnavailable:        KindUnavailable,
	CodeDataLoss:           KindDataLoss,
	CodeUnauthenticated:    KindUnauthorized,
}

var kindEvents = map[ErrorKind]string{
	KindCancelled:          "storeOperationCancelled",
	KindUnknown:            "storeUnknown",
	KindInvalidArgument:    "storeInvalidArgument",
	KindDeadlineExceeded:   "storeDeadlineExceeded",
	KindNotFound:           "storeDocumentNotFound",
	KindAlreadyExists:      "storeDocumentAlreadyExists",
	KindPermissionDenied:   "storePermissionDenied",
	KindResourceExhausted:  "storeResourceExhausted",
	KindPreconditionFailed: "storeFailedPrecondition",
	KindAborted:            "storeOperationAborted",
	KindOutOfRange:         "storeOutOfRange",
	KindUnimplemented:      "storeUnimplemented",
	KindInternal:           "storeInternal",
	KindUnavailable:        "storeUnavailable",
	KindDataLoss:           "storeDataLoss",
	KindUnauthorized:       "storeUnauthorized",
	KindSchemaInvalid:      "schemaInvalid",
	KindDocumentInvalid:    "documentInvalid",
}

// DefaultBenignKinds are the kinds that are part of normal operation and are
// never logged.
var DefaultBenignKinds = []ErrorKind{KindCancelled, KindNotFound, KindAlreadyExists}

// Translator normalizes store errors into the *Error taxonomy and logs the
// ones that are not expected during normal operation.
type Translator struct {
	logger *zap.Logger
	benign map[ErrorKind]bool
}

// NewTranslator returns a Translator logging to logger. When no benign kinds
// are given DefaultBenignKinds is used.
func NewTranslator(logger *zap.Logger, benign ...ErrorKind) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(benign) == 0 {
		benign = DefaultBenignKinds
	}
	t := &Translator{
		logger: logger,
		benign: make(map[ErrorKind]bool, len(benign)),
	}
	for _, k := range benign {
		t.benign[k] = true
	}
	return t
}

// Translate maps err into an *Error. An error that already is an *Error
// keeps its kind and message. When it gets logged here a marked copy is
// returned so the caller's value, which may be a package level sentinel, is
// never modified. A nil Translator translates without logging.
func (t *Translator) Translate(err error) error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		if tagged.logged || !t.log(tagged, err) || err != error(tagged) {
			return err
		}
		marked := *tagged
		marked.logged = true
		return &marked
	}

	translated := translate(err)
	translated.logged = t.log(translated, err)
	return translated
}

// Benign reports whether errors of kind k are suppressed from logging.
func (t *Translator) Benign(k ErrorKind) bool {
	if t == nil {
		return true
	}
	return t.benign[k]
}

// log reports whether e was logged.
func (t *Translator) log(e *Error, original error) bool {
	if t == nil || e.logged || t.benign[e.Kind] {
		return false
	}
	t.logger.Error("store operation failed",
		zap.String("source", "trellis"),
		zap.String("event", kindEvents[e.Kind]),
		zap.Stringer("kind", e.Kind),
		zap.Int("providerCode", e.ProviderCode),
		zap.String("details", e.Msg),
		zap.NamedError("original", original),
	)
	return true
}

func translate(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Msg: err.Error(), ProviderCode: CodeCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindDeadlineExceeded, Msg: err.Error(), ProviderCode: CodeDeadlineExceeded, Err: err}
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Code == CodeOK {
		return &Error{Kind: KindUnknown, Msg: "an unknown error occurred", Err: err}
	}

	details := perr.Details
	if details == "" {
		details = "unknown error"
	}

	kind, ok := codeKinds[perr.Code]
	if !ok {
		kind = KindInternal
	}
	return &Error{Kind: kind, Msg: details, ProviderCode: perr.Code, Err: err}
}
