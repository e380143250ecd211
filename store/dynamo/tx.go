package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/trellis-odm/internal/batch"
	"github.com/jacentio/trellis-odm/store"
)

type writeOp int

const (
	opCreate writeOp = iota
	opUpdate
	opSet
	opDelete
)

type write struct {
	op   writeOp
	ref  store.DocRef
	data store.Data
}

// readState is what a transaction observed for one document.
type readState struct {
	exists  bool
	version string
}

// condition is a condition expression with the names and values it uses.
type condition struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// transaction implements store.Tx for a single attempt.
type transaction struct {
	s      *Store
	reads  map[string]readState
	order  []store.DocRef
	writes []write
}

func newTransaction(s *Store) *transaction {
	return &transaction{
		s:     s,
		reads: make(map[string]readState),
	}
}

// GetAll implements store.Tx.
func (tx *transaction) GetAll(ctx context.Context, refs ...store.DocRef) ([]store.Snapshot, error) {
	if len(tx.writes) > 0 {
		return nil, &store.ProviderError{
			Code:    store.CodeInvalidArgument,
			Details: "transactions require all reads to be executed before all writes",
		}
	}
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}

	// A transaction may not touch one item twice, so repeated refs are read
	// once and fanned back out in ref order.
	found := make(map[string]map[string]types.AttributeValue, len(refs))
	unique := batch.Unique(refs, store.DocRef.Path)
	for _, chunk := range batch.Chunk(unique, batch.MaxDynamoItems) {
		items := make([]types.TransactGetItem, 0, len(chunk))
		for _, ref := range chunk {
			items = append(items, types.TransactGetItem{
				Get: &types.Get{
					TableName: aws.String(tx.s.TableName(ref.Resource)),
					Key:       tx.s.key(ref),
				},
			})
		}
		out, err := tx.s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: items})
		if err != nil {
			return nil, mapError(err)
		}
		for i, ref := range chunk {
			var item map[string]types.AttributeValue
			if i < len(out.Responses) {
				item = out.Responses[i].Item
			}
			found[ref.Path()] = item
			tx.observe(ref, item)
		}
	}

	snapshots := make([]store.Snapshot, 0, len(refs))
	for _, ref := range refs {
		snap, err := tx.s.snapshot(ref, found[ref.Path()])
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (tx *transaction) observe(ref store.DocRef, item map[string]types.AttributeValue) {
	if _, seen := tx.reads[ref.Path()]; !seen {
		tx.order = append(tx.order, ref)
	}
	tx.reads[ref.Path()] = readState{exists: item != nil, version: versionOf(item)}
}

// Create implements store.Tx.
func (tx *transaction) Create(ref store.DocRef, data store.Data) error {
	return tx.buffer(opCreate, ref, data)
}

// Update implements store.Tx.
func (tx *transaction) Update(ref store.DocRef, data store.Data) error {
	return tx.buffer(opUpdate, ref, data)
}

// Set implements store.Tx.
func (tx *transaction) Set(ref store.DocRef, data store.Data) error {
	return tx.buffer(opSet, ref, data)
}

// Delete implements store.Tx.
func (tx *transaction) Delete(ref store.DocRef) error {
	return tx.buffer(opDelete, ref, nil)
}

func (tx *transaction) buffer(op writeOp, ref store.DocRef, data store.Data) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	for _, w := range tx.writes {
		if w.ref == ref {
			return &store.ProviderError{
				Code:    store.CodeInvalidArgument,
				Details: fmt.Sprintf("document %s is written more than once in one transaction", ref),
			}
		}
	}
	tx.writes = append(tx.writes, write{op: op, ref: ref, data: data})
	return nil
}

// readCondition guards a document against changes since it was read.
func (tx *transaction) readCondition(ref store.DocRef) (condition, bool) {
	r, ok := tx.reads[ref.Path()]
	if !ok {
		return condition{}, false
	}
	switch {
	case !r.exists:
		return condition{expr: notExistsCondition(), names: tx.s.keyNames()}, true
	case r.version == "":
		return condition{
			expr:  "attribute_exists(#key) AND attribute_not_exists(#version)",
			names: mergeExprNames(tx.s.keyNames(), map[string]string{"#version": attrVersion}),
		}, true
	default:
		return condition{
			expr:   versionCondition(),
			names:  map[string]string{"#version": attrVersion},
			values: map[string]types.AttributeValue{":read_version": &types.AttributeValueMemberS{Value: r.version}},
		}, true
	}
}

// itemKind records why an item was added to the write request, so a
// cancellation reason can be mapped back to an error.
type itemKind struct {
	op        writeOp
	ref       store.DocRef
	readGuard bool
}

// commit sends every buffered write, plus a condition check for every
// document that was read but not written, in one TransactWriteItems call.
func (tx *transaction) commit(ctx context.Context) error {
	if len(tx.writes) == 0 {
		return nil
	}

	var items []types.TransactWriteItem
	var kinds []itemKind
	written := make(map[string]bool, len(tx.writes))

	for _, w := range tx.writes {
		written[w.ref.Path()] = true
		if r, ok := tx.reads[w.ref.Path()]; ok {
			if w.op == opCreate && r.exists {
				return alreadyExists(w.ref)
			}
			if w.op == opUpdate && !r.exists {
				return notFound(w.ref)
			}
		}
		guard, guarded := tx.readCondition(w.ref)
		item, err := tx.writeItem(w, guard)
		if err != nil {
			return err
		}
		items = append(items, item)
		kinds = append(kinds, itemKind{op: w.op, ref: w.ref, readGuard: guarded})
	}

	for _, ref := range tx.order {
		if written[ref.Path()] {
			continue
		}
		guard, _ := tx.readCondition(ref)
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(tx.s.TableName(ref.Resource)),
				Key:                       tx.s.key(ref),
				ConditionExpression:       aws.String(guard.expr),
				ExpressionAttributeNames:  guard.names,
				ExpressionAttributeValues: nilIfEmpty(guard.values),
			},
		})
		kinds = append(kinds, itemKind{ref: ref, readGuard: true})
	}

	if len(items) > batch.MaxDynamoItems {
		return &store.ProviderError{
			Code:    store.CodeResourceExhausted,
			Details: fmt.Sprintf("transaction touches %d documents, limit is %d", len(items), batch.MaxDynamoItems),
		}
	}

	_, err := tx.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, kinds)
}

func (tx *transaction) writeItem(w write, guard condition) (types.TransactWriteItem, error) {
	table := aws.String(tx.s.TableName(w.ref.Resource))
	switch w.op {
	case opCreate, opSet:
		item, err := tx.s.newItem(w.ref, w.data)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{TableName: table, Item: item}
		cond := guard
		if w.op == opCreate && guard.expr != notExistsCondition() {
			cond = condition{
				expr:   andConditions(notExistsCondition(), guard.expr),
				names:  mergeExprNames(tx.s.keyNames(), guard.names),
				values: guard.values,
			}
		}
		if cond.expr != "" {
			put.ConditionExpression = aws.String(cond.expr)
			put.ExpressionAttributeNames = cond.names
			put.ExpressionAttributeValues = nilIfEmpty(cond.values)
		}
		return types.TransactWriteItem{Put: put}, nil

	case opUpdate:
		in, err := tx.s.updateInput(w.ref, w.data, guard)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 in.TableName,
			Key:                       in.Key,
			UpdateExpression:          in.UpdateExpression,
			ConditionExpression:       in.ConditionExpression,
			ExpressionAttributeNames:  in.ExpressionAttributeNames,
			ExpressionAttributeValues: in.ExpressionAttributeValues,
		}}, nil

	case opDelete:
		del := &types.Delete{TableName: table, Key: tx.s.key(w.ref)}
		if guard.expr != "" {
			del.ConditionExpression = aws.String(guard.expr)
			del.ExpressionAttributeNames = guard.names
			del.ExpressionAttributeValues = nilIfEmpty(guard.values)
		}
		return types.TransactWriteItem{Delete: del}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unknown write operation %d", w.op)
}

// mapTransactionError maps a TransactWriteItems failure. A failed condition
// on a document that was read means it changed concurrently and the attempt
// is aborted; otherwise create collisions and updates of missing documents
// map to their own codes.
func mapTransactionError(err error, kinds []itemKind) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || i >= len(kinds) {
				continue
			}
			switch *reason.Code {
			case "TransactionConflict":
				return &store.ProviderError{Code: store.CodeAborted, Details: "transaction conflict", Err: err}
			case "ConditionalCheckFailed":
				k := kinds[i]
				switch {
				case k.readGuard:
					return &store.ProviderError{
						Code:    store.CodeAborted,
						Details: fmt.Sprintf("document %s was modified concurrently", k.ref),
						Err:     err,
					}
				case k.op == opCreate:
					return alreadyExists(k.ref)
				case k.op == opUpdate:
					return notFound(k.ref)
				}
			}
		}
	}
	return mapError(err)
}

func nilIfEmpty(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(m) == 0 {
		return nil
	}
	return m
}
