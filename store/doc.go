// Package store defines the document store capability used by trellis
// models and transaction handlers, and the error taxonomy shared by every
// trellis package.
//
// # Store
//
// A [Store] addresses documents by [DocRef] (resource + id) and offers
// single document reads and writes plus [Store.RunTransaction], which runs a
// [TxFunc] atomically and retries it on contention:
//
//	err := st.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
//	    snaps, err := tx.GetAll(ctx, store.Ref("accounts", "a1"))
//	    if err != nil {
//	        return err
//	    }
//	    return tx.Update(snaps[0].Ref, store.Data{"balance": 10})
//	}, store.TxOptions{MaxAttempts: 3})
//
// Implementations live in the dynamo (DynamoDB) and bolt (bbolt) packages.
//
// # Errors
//
// Backends report failures as [ProviderError] values carrying a status code
// in the 0-16 range. A [Translator] turns them into [*Error] values with a
// stable [ErrorKind] and logs the ones that are not expected in normal
// operation. The sentinels work with errors.Is:
//
//   - [ErrNotFound] - a document (or several, in a batch) does not exist
//   - [ErrAlreadyExists] - create collided with an existing document
//   - [ErrPreconditionFailed] - the call is not allowed in the current state
//   - [ErrInvalidArgument] - malformed input
//   - [ErrAborted] - contention outlasted the attempt budget
//   - [ErrSchemaInvalid], [ErrDocumentInvalid] - validation failures
package store
