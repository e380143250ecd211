//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/model"
	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/store/dynamo"
	"github.com/jacentio/trellis-odm/txn"
)

// Table names are unique per test run to avoid conflicts.
const tablePrefix = "trellis-e2e-test"

var (
	testID    string
	resources = []string{"accounts", "ledgers"}

	ddbClient *dynamodb.Client
	testStore *dynamo.Store
	sink      *analytics.Sink
	accounts  *model.Model
	ledgers   *model.Model
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	prefix := fmt.Sprintf("%s-%s-", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Table prefix: %s\n", prefix)

	// Uses AWS_PROFILE / AWS_REGION from the environment.
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg)

	testStore = dynamo.New(ddbClient, dynamo.Config{TablePrefix: prefix})

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	sink = analytics.NewSink()
	accounts, err = model.New(model.Config{
		Resource: "accounts",
		Fields: model.Fields{
			"name":    {Schema: &model.Schema{Type: model.TypeString, Required: true, Rules: "min=1"}, WhiteList: true},
			"email":   {Schema: &model.Schema{Type: model.TypeString, Rules: "email"}, WhiteList: true},
			"balance": {Schema: &model.Schema{Type: model.TypeNumber}},
		},
	}, testStore, model.WithAnalytics(sink))
	if err != nil {
		fmt.Printf("Failed to declare accounts: %v\n", err)
		os.Exit(1)
	}
	ledgers, err = model.New(model.Config{
		Resource: "ledgers",
		Fields: model.Fields{
			"count": {Schema: &model.Schema{Type: model.TypeNumber, Required: true}, WhiteList: true},
		},
	}, testStore, model.WithAnalytics(sink))
	if err != nil {
		fmt.Printf("Failed to declare ledgers: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	for _, resource := range resources {
		tableName := testStore.TableName(resource)
		_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", tableName, err)
		}
	}

	for _, resource := range resources {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(testStore.TableName(resource)),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", resource, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, resource := range resources {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(testStore.TableName(resource)),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", resource, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

func createAccount(t *testing.T, name string, balance int) *model.Instance {
	t.Helper()
	inst, err := accounts.Construct(store.Data{"name": name}, "")
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}
	inst.Put("balance", balance)
	if _, err := inst.Create(context.Background()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return inst
}

func balanceOf(t *testing.T, id string) float64 {
	t.Helper()
	inst, err := accounts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	v, _ := inst.Get("balance")
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("expected numeric balance, got %T", v)
	}
	return f
}

// --- CRUD Tests ---

func TestCreate_AndGet(t *testing.T) {
	ctx := context.Background()
	inst := createAccount(t, "Ada", 10)

	got, err := accounts.Get(ctx, inst.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if name, _ := got.Get("name"); name != "Ada" {
		t.Errorf("expected name 'Ada', got %v", name)
	}
	if got.CreateTime().IsZero() || got.UpdateTime().IsZero() {
		t.Error("expected store timestamps to be set")
	}
	if got.IsNew() {
		t.Error("expected loaded instance not to be new")
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	inst := createAccount(t, "Ada", 0)

	dup, err := accounts.Construct(store.Data{"name": "Grace"}, inst.ID())
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}
	_, err = dup.Create(context.Background())
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdate_MergesFields(t *testing.T) {
	ctx := context.Background()
	inst := createAccount(t, "Ada", 5)

	if _, err := inst.Assign(store.Data{"email": "ada@example.com"}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := inst.Update(ctx); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, err := accounts.Find(ctx, inst.ID(), model.WithMask(model.All()))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if doc["email"] != "ada@example.com" || doc["name"] != "Ada" {
		t.Errorf("unexpected document %v", doc)
	}
}

func TestUpdate_Missing(t *testing.T) {
	inst, err := accounts.Hydrate(store.Data{"name": "Ghost"}, uuid.NewString())
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	_, err = inst.Update(context.Background())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveProps_RequiresSet(t *testing.T) {
	ctx := context.Background()
	inst := createAccount(t, "Ada", 5)
	if _, err := inst.Assign(store.Data{"email": "ada@example.com"}); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := inst.Update(ctx); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	inst.RemoveProps("email")
	if _, err := inst.Update(ctx); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := inst.Set(ctx); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	doc, err := accounts.Find(ctx, inst.ID(), model.WithMask(model.All()))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if _, ok := doc["email"]; ok {
		t.Errorf("expected email to be removed, got %v", doc)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	inst := createAccount(t, "Ada", 0)

	if err := accounts.Remove(ctx, inst.ID()); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	exists, err := accounts.Exists(ctx, inst.ID())
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected document to be removed")
	}
	if err := accounts.Remove(ctx, inst.ID()); err != nil {
		t.Errorf("removing a missing document should succeed, got %v", err)
	}
}

func TestBatchGet_PreservesOrder(t *testing.T) {
	a := createAccount(t, "A", 0)
	b := createAccount(t, "B", 0)

	list, err := accounts.BatchGet(context.Background(), []string{b.ID(), uuid.NewString(), a.ID()}, model.WithMissing())
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[0].ID() != b.ID() || list[1] != nil || list[2].ID() != a.ID() {
		t.Errorf("unexpected order: %v", list)
	}
}

// --- Transaction Tests ---

func TestTransaction_Transfer(t *testing.T) {
	ctx := context.Background()
	from := createAccount(t, "From", 100)
	to := createAccount(t, "To", 0)

	h := txn.New(testStore, txn.WithAnalytics(sink))
	if err := h.QueueToGet(accounts, from.ID()); err != nil {
		t.Fatalf("QueueToGet failed: %v", err)
	}
	if err := h.QueueToGet(accounts, to.ID()); err != nil {
		t.Fatalf("QueueToGet failed: %v", err)
	}
	err := h.GetAll(func(ctx context.Context, insts []*model.Instance) error {
		fb, _ := insts[0].Get("balance")
		tb, _ := insts[1].Get("balance")
		insts[0].Put("balance", fb.(float64)-40)
		insts[1].Put("balance", tb.(float64)+40)
		if err := h.Update(insts[0]); err != nil {
			return err
		}
		return h.Update(insts[1])
	})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}

	results, err := h.Run(ctx, 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if got := balanceOf(t, from.ID()); got != 60 {
		t.Errorf("expected from balance 60, got %v", got)
	}
	if got := balanceOf(t, to.ID()); got != 40 {
		t.Errorf("expected to balance 40, got %v", got)
	}
}

func TestTransaction_NotFoundListsAllIDs(t *testing.T) {
	existing := createAccount(t, "Existing", 0)
	missing := []string{uuid.NewString(), uuid.NewString()}

	h := txn.New(testStore)
	for _, id := range append([]string{existing.ID()}, missing...) {
		if err := h.QueueToGet(accounts, id); err != nil {
			t.Fatalf("QueueToGet failed: %v", err)
		}
	}
	if err := h.GetAll(nil); err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}

	_, err := h.Run(context.Background(), 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	want := "Following document ids not found: " + strings.Join(missing, " ")
	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected error to contain %q, got %q", want, err.Error())
	}
}

func TestTransaction_CreateAndDelete(t *testing.T) {
	ctx := context.Background()
	old := createAccount(t, "Old", 0)

	inst, err := accounts.Construct(store.Data{"name": "New"}, "")
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}

	h := txn.New(testStore)
	if err := h.Create(inst); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.Delete(accounts.Ref(old.ID())); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	results, err := h.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !results[1].Deleted {
		t.Error("expected second result to be a delete")
	}

	if exists, _ := accounts.Exists(ctx, old.ID()); exists {
		t.Error("expected old account to be deleted")
	}
	if exists, _ := accounts.Exists(ctx, inst.ID()); !exists {
		t.Error("expected new account to exist")
	}
}

// --- Concurrency Tests ---

func TestTransaction_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	ledger, err := ledgers.Construct(store.Data{"count": 0}, "")
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}
	if _, err := ledger.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := txn.New(testStore)
			if err := h.QueueToGet(ledgers, ledger.ID()); err != nil {
				errs <- err
				return
			}
			if err := h.GetAll(func(ctx context.Context, insts []*model.Instance) error {
				count, _ := insts[0].Get("count")
				insts[0].Put("count", count.(float64)+1)
				return h.Update(insts[0])
			}); err != nil {
				errs <- err
				return
			}
			_, err := h.Run(ctx, 20)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("transaction failed: %v", err)
		}
	}

	inst, err := ledgers.Get(ctx, ledger.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if count, _ := inst.Get("count"); count != float64(workers) {
		t.Errorf("expected count %d, got %v", workers, count)
	}
}
