package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/trellis-odm/store"
)

func alreadyExists(ref store.DocRef) error {
	return &store.ProviderError{
		Code:    store.CodeAlreadyExists,
		Details: fmt.Sprintf("Document with id: %s already exists in %s!", ref.ID, ref.Resource),
	}
}

func notFound(ref store.DocRef) error {
	return &store.ProviderError{
		Code:    store.CodeNotFound,
		Details: fmt.Sprintf("Document with id: %s not found in %s!", ref.ID, ref.Resource),
	}
}

// mapError converts a DynamoDB client error into a store.ProviderError
// carrying the matching status code. Context errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var perr *store.ProviderError
	if errors.As(err, &perr) {
		return err
	}

	code := store.CodeUnknown

	var (
		notFoundErr    *types.ResourceNotFoundException
		throughputErr  *types.ProvisionedThroughputExceededException
		limitErr       *types.RequestLimitExceeded
		collectionErr  *types.ItemCollectionSizeLimitExceededException
		conflictErr    *types.TransactionConflictException
		canceledErr    *types.TransactionCanceledException
		inProgressErr  *types.TransactionInProgressException
		internalErr    *types.InternalServerError
		conditionalErr *types.ConditionalCheckFailedException
		apiErr         smithy.APIError
	)
	switch {
	case errors.As(err, &notFoundErr):
		code = store.CodeFailedPrecondition
	case errors.As(err, &throughputErr), errors.As(err, &limitErr), errors.As(err, &collectionErr):
		code = store.CodeResourceExhausted
	case errors.As(err, &conflictErr), errors.As(err, &inProgressErr):
		code = store.CodeAborted
	case errors.As(err, &canceledErr):
		code = cancellationCode(canceledErr.CancellationReasons)
	case errors.As(err, &internalErr):
		code = store.CodeInternal
	case errors.As(err, &conditionalErr):
		code = store.CodeFailedPrecondition
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "ValidationException", "SerializationException":
			code = store.CodeInvalidArgument
		case "AccessDeniedException":
			code = store.CodePermissionDenied
		case "UnrecognizedClientException", "MissingAuthenticationToken", "ExpiredTokenException":
			code = store.CodeUnauthenticated
		case "ServiceUnavailable", "ServiceUnavailableException":
			code = store.CodeUnavailable
		case "ThrottlingException":
			code = store.CodeResourceExhausted
		}
	}

	return &store.ProviderError{Code: code, Details: err.Error(), Err: err}
}

// cancellationCode maps the reasons of a cancelled transaction. Only a
// conflict is contention; every other reason fails the same way on retry.
func cancellationCode(reasons []types.CancellationReason) int {
	code := store.CodeUnknown
	for _, reason := range reasons {
		switch aws.ToString(reason.Code) {
		case "TransactionConflict":
			return store.CodeAborted
		case "ValidationError":
			if code == store.CodeUnknown {
				code = store.CodeInvalidArgument
			}
		case "ItemCollectionSizeLimitExceeded", "ProvisionedThroughputExceeded", "ThrottlingError":
			if code == store.CodeUnknown {
				code = store.CodeResourceExhausted
			}
		case "ConditionalCheckFailed":
			if code == store.CodeUnknown {
				code = store.CodeFailedPrecondition
			}
		}
	}
	return code
}
