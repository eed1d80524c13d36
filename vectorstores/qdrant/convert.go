package qdrant

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/x-08/agentcloud/vectorstores"
)

// pointID maps a string id onto a Qdrant id. Qdrant only accepts UUIDs and
// unsigned integers, anything else is hashed into a stable UUID.
func pointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func idString(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}

func toPayload(payload map[string]string) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		out[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: value}}
	}
	return out
}

// fromPayload flattens a Qdrant payload back to strings. Points written by
// other tools may carry typed values; those are formatted.
func fromPayload(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for key, value := range payload {
		if s, ok := valueString(value); ok {
			out[key] = s
		}
	}
	return out
}

func valueString(value *qdrant.Value) (string, bool) {
	switch v := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue, true
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(v.IntegerValue, 10), true
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'g', -1, 64), true
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(v.BoolValue), true
	case *qdrant.Value_ListValue:
		parts := make([]string, 0, len(v.ListValue.GetValues()))
		for _, item := range v.ListValue.GetValues() {
			if s, ok := valueString(item); ok {
				parts = append(parts, s)
			}
		}
		return fmt.Sprintf("%v", parts), true
	default:
		return "", false
	}
}

func buildQdrantFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filters))
	for _, key := range slices.Sorted(maps.Keys(filters)) {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: filters[key]}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func isTransient(err error) bool {
	stat, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch stat.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// classify tags connection level failures with ErrTransport and everything
// else with kind, when given.
func classify(err error, kind error) error {
	var statusErr interface{ GRPCStatus() *status.Status }
	if isTransient(err) || !errors.As(err, &statusErr) && kind == nil {
		return fmt.Errorf("%w: %w", vectorstores.ErrTransport, err)
	}
	if kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}
