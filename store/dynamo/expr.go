package dynamo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store managed attributes. They are stripped from documents on read.
const (
	attrVersion   = "_version"
	attrCreatedAt = "_created_at"
	attrUpdatedAt = "_updated_at"
)

// IsManagedAttribute reports whether name is maintained by the store rather
// than being part of a document.
func IsManagedAttribute(name string) bool {
	return name == attrVersion || name == attrCreatedAt || name == attrUpdatedAt
}

func existsCondition() string    { return "attribute_exists(#key)" }
func notExistsCondition() string { return "attribute_not_exists(#key)" }
func versionCondition() string   { return "#version = :read_version" }

// keyNames returns the expression attribute names every condition uses.
func (s *Store) keyNames() map[string]string {
	return map[string]string{"#key": s.config.KeyAttribute}
}

// updateExpression builds the SET expression merging item into an existing
// document. The key attribute and managed attributes in item are ignored.
func (s *Store) updateExpression(item map[string]types.AttributeValue, version, now string) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{
		"#version":    attrVersion,
		"#updated_at": attrUpdatedAt,
	}
	values := map[string]types.AttributeValue{
		":version":    &types.AttributeValueMemberS{Value: version},
		":updated_at": &types.AttributeValueMemberS{Value: now},
	}

	// Sorted for deterministic expressions.
	fields := make([]string, 0, len(item))
	for k := range item {
		if k == s.config.KeyAttribute || IsManagedAttribute(k) {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	clauses := make([]string, 0, len(fields)+2)
	for i, k := range fields {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k
		values[valueKey] = item[k]
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	clauses = append(clauses, "#updated_at = :updated_at", "#version = :version")

	return "SET " + strings.Join(clauses, ", "), names, values
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// andConditions joins the non-empty conditions with AND.
func andConditions(conds ...string) string {
	var parts []string
	for _, c := range conds {
		if c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	for i, p := range parts {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, " AND ")
}
